package capability

// EditorAPI reads and writes the active editor through the host shell's
// callbacks.
type EditorAPI struct {
	api *API
}

// InsertText appends text to the active document.
func (e *EditorAPI) InsertText(text string) {
	if e.api.deps.UI.InsertText != nil {
		e.api.deps.UI.InsertText(text)
	}
}

// GetContent returns the active document's full text.
func (e *EditorAPI) GetContent() string {
	if e.api.deps.UI.GetContent == nil {
		return ""
	}
	return e.api.deps.UI.GetContent()
}

// GetSelection returns the active selection's text.
func (e *EditorAPI) GetSelection() string {
	if e.api.deps.UI.GetSelection == nil {
		return ""
	}
	return e.api.deps.UI.GetSelection()
}
