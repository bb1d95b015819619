package capability

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
)

// FileInfo is the host's stat result.
type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"isDir"`
	ModTime string `json:"modTime"`
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// FileEvent is one filesystem change delivered to a watcher.
type FileEvent struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

// FileSystemWatcher delivers create/change/delete events for one path.
// Dispose stops the watch; it is safe to call more than once.
type FileSystemWatcher struct {
	OnCreate func(path string)
	OnChange func(path string)
	OnDelete func(path string)

	dispose host.Disposer
}

// Dispose stops the watch and releases the host-side watcher.
func (w *FileSystemWatcher) Dispose() {
	w.dispose()
}

// WorkspaceAPI forwards file operations to the privileged host.
type WorkspaceAPI struct {
	api *API
}

// ReadFile returns the file's contents.
func (w *WorkspaceAPI) ReadFile(ctx context.Context, path string) (string, error) {
	raw, err := w.api.deps.Host.Invoke(ctx, host.CmdReadFile, map[string]any{"path": path})
	if err != nil {
		return "", err
	}
	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Wrap(err, "decoding read_file result")
	}
	return result.Content, nil
}

// WriteFile replaces the file's contents, creating it if needed.
func (w *WorkspaceAPI) WriteFile(ctx context.Context, path, content string) error {
	_, err := w.api.deps.Host.Invoke(ctx, host.CmdWriteFile, map[string]any{
		"path":    path,
		"content": content,
	})
	return err
}

// Stat returns metadata for a path.
func (w *WorkspaceAPI) Stat(ctx context.Context, path string) (FileInfo, error) {
	raw, err := w.api.deps.Host.Invoke(ctx, host.CmdStat, map[string]any{"path": path})
	if err != nil {
		return FileInfo{}, err
	}
	var info FileInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return FileInfo{}, errors.Wrap(err, "decoding stat result")
	}
	return info, nil
}

// ReadDirectory lists a directory.
func (w *WorkspaceAPI) ReadDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	raw, err := w.api.deps.Host.Invoke(ctx, host.CmdReadDirectory, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding read_directory result")
	}
	return entries, nil
}

// FindFiles returns workspace-relative paths matching the glob pattern.
func (w *WorkspaceAPI) FindFiles(ctx context.Context, root, pattern string) ([]string, error) {
	raw, err := w.api.deps.Host.Invoke(ctx, host.CmdFindFiles, map[string]any{
		"root":    root,
		"pattern": pattern,
	})
	if err != nil {
		return nil, err
	}
	var paths []string
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, errors.Wrap(err, "decoding find_files result")
	}
	return paths, nil
}

// CreateFileSystemWatcher starts watching path. Set the On* callbacks
// before events arrive; the first event can be delivered as soon as the
// host subscription exists.
func (w *WorkspaceAPI) CreateFileSystemWatcher(ctx context.Context, path string) (*FileSystemWatcher, error) {
	raw, err := w.api.deps.Host.Invoke(ctx, host.CmdWatchPath, map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	var result struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "decoding watch_path result")
	}

	watcher := &FileSystemWatcher{}
	listenDispose, err := w.api.deps.Host.Listen(ctx, result.Channel, func(payload json.RawMessage) {
		var event FileEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			w.api.log.Warnw("Dropping malformed file event", "channel", result.Channel)
			return
		}
		switch event.Op {
		case "create":
			if watcher.OnCreate != nil {
				watcher.OnCreate(event.Path)
			}
		case "delete":
			if watcher.OnDelete != nil {
				watcher.OnDelete(event.Path)
			}
		default:
			if watcher.OnChange != nil {
				watcher.OnChange(event.Path)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	watcher.dispose = func() {
		once.Do(func() {
			listenDispose()
			_, _ = w.api.deps.Host.Invoke(context.Background(), host.CmdUnwatchPath, map[string]any{
				"channel": result.Channel,
			})
		})
	}
	w.api.trackDisposer(watcher.dispose)
	return watcher, nil
}

// Listen subscribes to a host event topic: document lifecycle, window
// state, and the rest of the host's broadcast surface. The disposer is
// tracked and runs automatically at unload.
func (w *WorkspaceAPI) Listen(ctx context.Context, topic string, handler func(payload json.RawMessage)) (host.Disposer, error) {
	dispose, err := w.api.deps.Host.Listen(ctx, topic, handler)
	if err != nil {
		return nil, err
	}
	w.api.trackDisposer(dispose)
	return dispose, nil
}
