package contrib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type teardownRecorder struct {
	views    []string
	status   []string
	commands []string
	tabs     []string
}

func (tr *teardownRecorder) collaborators() Collaborators {
	return Collaborators{
		UnregisterView:       func(id string) { tr.views = append(tr.views, id) },
		UnregisterStatusItem: func(id string) { tr.status = append(tr.status, id) },
		UnregisterCommand:    func(id string) { tr.commands = append(tr.commands, id) },
		CloseTab:             func(id string) { tr.tabs = append(tr.tabs, id) },
	}
}

func TestTeardownRemovesEverything(t *testing.T) {
	rec := &teardownRecorder{}
	reg := NewRegistry(rec.collaborators(), nil)

	reg.RecordView("alpha", "alpha.sidebar")
	reg.RecordStatusItem("alpha", "alpha.clock")
	reg.RecordCommand("alpha", "alpha.hello")
	reg.RecordCommand("alpha", "alpha.goodbye")
	reg.RecordOpenedTab("alpha", "tab-1")
	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "alpha", Label: "Export", CommandID: "alpha.export", Order: 5})

	reg.Teardown("alpha")

	assert.Equal(t, []string{"alpha.sidebar"}, rec.views)
	assert.Equal(t, []string{"alpha.clock"}, rec.status)
	assert.Equal(t, []string{"alpha.hello", "alpha.goodbye"}, rec.commands)
	assert.Equal(t, []string{"tab-1"}, rec.tabs)
	assert.Nil(t, reg.Snapshot("alpha"))
	assert.Empty(t, reg.ListFileMenuEntries())
}

func TestTeardownIsIdempotent(t *testing.T) {
	rec := &teardownRecorder{}
	reg := NewRegistry(rec.collaborators(), nil)

	reg.RecordCommand("alpha", "alpha.hello")

	reg.Teardown("alpha")
	reg.Teardown("alpha")
	reg.Teardown("never-loaded")

	assert.Equal(t, []string{"alpha.hello"}, rec.commands)
}

func TestTeardownLeavesOtherExtensionsAlone(t *testing.T) {
	rec := &teardownRecorder{}
	reg := NewRegistry(rec.collaborators(), nil)

	reg.RecordCommand("alpha", "alpha.hello")
	reg.RecordView("beta", "beta.explorer")
	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "beta", Label: "Open", CommandID: "beta.open", Order: 1})

	reg.Teardown("alpha")

	require.NotNil(t, reg.Snapshot("beta"))
	assert.Equal(t, []string{"beta.explorer"}, reg.Snapshot("beta").Views)
	assert.Empty(t, rec.views)
	assert.Len(t, reg.ListFileMenuEntries(), 1)
}

func TestFileMenuEntriesSortedByOrderThenInsertion(t *testing.T) {
	reg := NewRegistry(Collaborators{}, nil)

	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "a", Label: "third", Order: 10})
	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "b", Label: "first", Order: 1})
	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "c", Label: "fourth", Order: 10})
	reg.RegisterFileMenuEntry(FileMenuEntry{Extension: "d", Label: "second", Order: 1})

	labels := []string{}
	for _, entry := range reg.ListFileMenuEntries() {
		labels = append(labels, entry.Label)
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, labels)
}

func TestRecordOpenedTabDeduplicates(t *testing.T) {
	reg := NewRegistry(Collaborators{}, nil)

	reg.RecordOpenedTab("alpha", "tab-1")
	reg.RecordOpenedTab("alpha", "tab-1")
	reg.RecordOpenedTab("alpha", "tab-2")

	assert.Equal(t, []string{"tab-1", "tab-2"}, reg.Snapshot("alpha").OpenedTabs)
}

func TestGetHandleCreatesEmptyHandle(t *testing.T) {
	reg := NewRegistry(Collaborators{}, nil)

	handle := reg.GetHandle("alpha")
	require.NotNil(t, handle)
	assert.Empty(t, handle.Views)

	assert.Same(t, handle, reg.GetHandle("alpha"))
}
