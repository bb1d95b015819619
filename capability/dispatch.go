package capability

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/registry"
)

// GuestInvoker calls back into a sandboxed extension's exported
// function. Registrations made from a sandbox name their callbacks by
// export name; the invoker turns those names into guest calls.
type GuestInvoker func(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error)

// SetGuestInvoker installs the guest callback bridge. Must be set before
// a sandboxed extension's activate runs.
func (a *API) SetGuestInvoker(fn GuestInvoker) {
	a.mu.Lock()
	a.guest = fn
	a.mu.Unlock()
}

func (a *API) guestInvoker() GuestInvoker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.guest
}

// Dispatch routes one capability call arriving over the sandbox
// boundary. method is "group.name"; args and the result are raw JSON.
func (a *API) Dispatch(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "editor.insertText":
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.Editor.InsertText(p.Text)
		return nil, nil

	case "editor.getContent":
		return json.Marshal(map[string]string{"content": a.Editor.GetContent()})

	case "editor.getSelection":
		return json.Marshal(map[string]string{"selection": a.Editor.GetSelection()})

	case "commands.register":
		return nil, a.dispatchRegisterCommand(args)

	case "commands.execute":
		var p struct {
			ID   string          `json:"id"`
			Args json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		result, err := a.Commands.Execute(ctx, p.ID, p.Args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"result": result})

	case "workspace.readFile":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		content, err := a.Workspace.ReadFile(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"content": content})

	case "workspace.writeFile":
		var p struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		return nil, a.Workspace.WriteFile(ctx, p.Path, p.Content)

	case "workspace.stat":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		info, err := a.Workspace.Stat(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)

	case "workspace.readDirectory":
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		entries, err := a.Workspace.ReadDirectory(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)

	case "workspace.findFiles":
		var p struct {
			Root    string `json:"root"`
			Pattern string `json:"pattern"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		paths, err := a.Workspace.FindFiles(ctx, p.Root, p.Pattern)
		if err != nil {
			return nil, err
		}
		return json.Marshal(paths)

	case "workspace.watch":
		return a.dispatchWatchStart(ctx, args)

	case "workspace.nextEvent":
		return a.dispatchWatchNext(args)

	case "workspace.unwatch":
		return nil, a.dispatchWatchStop(args)

	case "views.register":
		var p struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Location string `json:"location"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.Views.Register(p.ID, p.Title, p.Location)
		return nil, nil

	case "statusBar.registerItem":
		var item registry.StatusItem
		if err := json.Unmarshal(args, &item); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.StatusBar.RegisterItem(item)
		return nil, nil

	case "statusBar.updateItem":
		var p struct {
			ID      string `json:"id"`
			Text    string `json:"text"`
			Tooltip string `json:"tooltip"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.StatusBar.UpdateItem(p.ID, p.Text, p.Tooltip)
		return nil, nil

	case "menus.registerFileMenu":
		var p struct {
			Label     string `json:"label"`
			CommandID string `json:"commandId"`
			Order     int    `json:"order"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.Menus.RegisterFileMenu(p.Label, p.CommandID, p.Order)
		return nil, nil

	case "window.openTab":
		var tab Tab
		if err := json.Unmarshal(args, &tab); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		id := a.Window.OpenTab(tab)
		return json.Marshal(map[string]string{"id": id})

	case "window.closeTab":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.Window.CloseTab(p.ID)
		return nil, nil

	case "window.showNotification":
		var p struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		a.Window.ShowNotification(ctx, p.Level, p.Message)
		return nil, nil

	case "chat.registerChatParticipant":
		return nil, a.dispatchRegisterParticipant(args)

	case "ai.stream":
		return a.dispatchStreamStart(ctx, args)

	case "ai.next":
		return a.dispatchStreamNext(ctx, args)

	case "storage.get":
		var p struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		value, err := a.Storage.Get(p.Key)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"value": value})

	case "storage.set":
		var p struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		return nil, a.Storage.Set(p.Key, p.Value)

	case "system.getEnv":
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		value, err := a.System.GetEnv(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"value": value})

	case "system.exec":
		var p struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		result, err := a.System.Exec(ctx, p.Command)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "system.version":
		return json.Marshal(map[string]string{"version": a.System.Version()})

	case "system.invoke":
		var p struct {
			Command string         `json:"command"`
			Args    map[string]any `json:"args"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, errors.Wrapf(err, "decoding %s args", method)
		}
		return a.System.Invoke(ctx, p.Command, p.Args)

	default:
		return nil, errors.Wrapf(errors.ErrNotFound, "unknown capability method %s", method)
	}
}

// dispatchRegisterCommand accepts both callback and handler as the
// export-name field, callback winning when both are present.
func (a *API) dispatchRegisterCommand(args json.RawMessage) error {
	var p struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
		Callback string `json:"callback"`
		Handler  string `json:"handler"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errors.Wrap(err, "decoding commands.register args")
	}
	export := p.Callback
	if export == "" {
		export = p.Handler
	}
	if export == "" {
		return errors.Newf("command %s registered without callback or handler", p.ID)
	}

	a.Commands.Register(CommandRegistration{
		ID:       p.ID,
		Title:    p.Title,
		Category: p.Category,
		Handler: func(ctx context.Context, cmdArgs json.RawMessage) (any, error) {
			guest := a.guestInvoker()
			if guest == nil {
				return nil, errors.Newf("extension %s has no active sandbox instance", a.extension)
			}
			result, err := guest(ctx, export, cmdArgs)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	})
	return nil
}

// dispatchRegisterParticipant bridges a sandboxed chat handler. The
// guest export receives the full request and returns the complete
// markdown answer in one call.
func (a *API) dispatchRegisterParticipant(args json.RawMessage) error {
	var p struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
		Handler     string `json:"handler"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errors.Wrap(err, "decoding chat.registerChatParticipant args")
	}

	a.Chat.RegisterChatParticipant(chat.Participant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Description: p.Description,
		Handler: func(ctx context.Context, req chat.Request, stream chat.ResponseStream) error {
			guest := a.guestInvoker()
			if guest == nil {
				err := errors.Newf("extension %s has no active sandbox instance", a.extension)
				stream.Error(err)
				return err
			}
			encoded, err := json.Marshal(req)
			if err != nil {
				stream.Error(err)
				return err
			}
			stream.Status("thinking")
			result, err := guest(ctx, p.Handler, encoded)
			if err != nil {
				stream.Error(err)
				return err
			}
			var answer struct {
				Markdown string `json:"markdown"`
			}
			if err := json.Unmarshal(result, &answer); err != nil {
				answer.Markdown = string(result)
			}
			stream.Markdown(answer.Markdown)
			stream.Done()
			return nil
		},
	})
	return nil
}

// guestWatch buffers filesystem events for a sandboxed guest, which
// cannot receive pushes and polls with workspace.nextEvent instead.
type guestWatch struct {
	mu      sync.Mutex
	queue   []FileEvent
	watcher *FileSystemWatcher
}

func (g *guestWatch) push(event FileEvent) {
	g.mu.Lock()
	g.queue = append(g.queue, event)
	g.mu.Unlock()
}

func (g *guestWatch) pop() (FileEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return FileEvent{}, false
	}
	event := g.queue[0]
	g.queue = g.queue[1:]
	return event, true
}

// watchTable tracks live guest watchers by id.
type watchTable struct {
	mu      sync.Mutex
	watches map[string]*guestWatch
}

func (a *API) dispatchWatchStart(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, errors.Wrap(err, "decoding workspace.watch args")
	}

	watcher, err := a.Workspace.CreateFileSystemWatcher(ctx, p.Path)
	if err != nil {
		return nil, err
	}
	gw := &guestWatch{watcher: watcher}
	watcher.OnCreate = func(path string) { gw.push(FileEvent{Op: "create", Path: path}) }
	watcher.OnChange = func(path string) { gw.push(FileEvent{Op: "change", Path: path}) }
	watcher.OnDelete = func(path string) { gw.push(FileEvent{Op: "delete", Path: path}) }

	a.watches.mu.Lock()
	if a.watches.watches == nil {
		a.watches.watches = make(map[string]*guestWatch)
	}
	id := uuid.NewString()
	a.watches.watches[id] = gw
	a.watches.mu.Unlock()

	return json.Marshal(map[string]string{"watch": id})
}

func (a *API) dispatchWatchNext(args json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Watch string `json:"watch"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, errors.Wrap(err, "decoding workspace.nextEvent args")
	}
	a.watches.mu.Lock()
	gw := a.watches.watches[p.Watch]
	a.watches.mu.Unlock()
	if gw == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "watch %s is not open", p.Watch)
	}
	event, ok := gw.pop()
	if !ok {
		return json.Marshal(map[string]any{"event": nil})
	}
	return json.Marshal(map[string]any{"event": event})
}

func (a *API) dispatchWatchStop(args json.RawMessage) error {
	var p struct {
		Watch string `json:"watch"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return errors.Wrap(err, "decoding workspace.unwatch args")
	}
	a.watches.mu.Lock()
	gw := a.watches.watches[p.Watch]
	delete(a.watches.watches, p.Watch)
	a.watches.mu.Unlock()
	if gw != nil {
		gw.watcher.Dispose()
	}
	return nil
}

// streamTable tracks live pull streams handed to a sandboxed guest by
// id.
type streamTable struct {
	mu      sync.Mutex
	streams map[string]*AIStream
}

func (a *API) dispatchStreamStart(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Request map[string]any `json:"request"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, errors.Wrap(err, "decoding ai.stream args")
	}
	stream, err := a.AI.Stream(ctx, p.Request)
	if err != nil {
		return nil, err
	}

	a.streams.mu.Lock()
	if a.streams.streams == nil {
		a.streams.streams = make(map[string]*AIStream)
	}
	id := uuid.NewString()
	a.streams.streams[id] = stream
	a.streams.mu.Unlock()

	return json.Marshal(map[string]string{"stream": id})
}

func (a *API) dispatchStreamNext(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Stream string `json:"stream"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, errors.Wrap(err, "decoding ai.next args")
	}
	a.streams.mu.Lock()
	stream := a.streams.streams[p.Stream]
	a.streams.mu.Unlock()
	if stream == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "stream %s is not open", p.Stream)
	}

	fragment, err := stream.Next(ctx)
	if err != nil {
		a.streams.mu.Lock()
		delete(a.streams.streams, p.Stream)
		a.streams.mu.Unlock()
		if errors.Is(err, io.EOF) {
			return json.Marshal(map[string]bool{"done": true})
		}
		return nil, err
	}
	return json.Marshal(map[string]any{"fragment": fragment})
}
