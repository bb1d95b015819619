package host

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	gopshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/settings"
)

// ManifestFileName is the static descriptor every extension directory
// must contain.
const ManifestFileName = "extension.json"

// Local is the in-process privileged host. It serves the full command
// surface against the local machine: the filesystem, the environment,
// the settings store, and a completion model endpoint.
type Local struct {
	bus    *Bus
	store  settings.Store
	llm    *ModelClient
	logger *zap.SugaredLogger

	// BuiltinDir and UserDir are scanned by extensions_scan
	BuiltinDir string
	UserDir    string

	mu       sync.Mutex
	watchers map[string]*fsnotify.Watcher
}

// NewLocal creates a local host. llm may be nil when no model endpoint is
// configured; llm_chat then fails like any other host call.
func NewLocal(bus *Bus, store settings.Store, llm *ModelClient, logger *zap.SugaredLogger) *Local {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Local{
		bus:      bus,
		store:    store,
		llm:      llm,
		logger:   logger,
		watchers: make(map[string]*fsnotify.Watcher),
	}
}

// Bus exposes the event bus for Listen and for components that publish
// UI-bound events.
func (l *Local) Bus() *Bus { return l.bus }

// Listen implements Listener via the event bus.
func (l *Local) Listen(ctx context.Context, topic string, handler func(payload json.RawMessage)) (Disposer, error) {
	return l.bus.Listen(ctx, topic, handler)
}

// Invoke implements Invoker. Any command failure is returned wrapped as a
// host-call error; the caller (extension code) is the one that handles it.
func (l *Local) Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	result, err := l.dispatch(ctx, command, args)
	if err != nil {
		return nil, errors.NewHostCallError(err, command)
	}
	return result, nil
}

func (l *Local) dispatch(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	switch command {
	case CmdReadFile:
		return l.readFile(args)
	case CmdWriteFile:
		return l.writeFile(args)
	case CmdStat:
		return l.stat(args)
	case CmdReadDirectory:
		return l.readDirectory(args)
	case CmdFindFiles:
		return l.findFiles(args)
	case CmdWatchPath:
		return l.watchPath(args)
	case CmdUnwatchPath:
		return l.unwatchPath(args)
	case CmdExec:
		return l.execCommand(ctx, args)
	case CmdGetEnv:
		return l.getEnv(args)
	case CmdSystemInfo:
		return l.systemInfo(ctx)
	case CmdSettingsGet:
		return l.settingsGet(args)
	case CmdSettingsSet:
		return l.settingsSet(args)
	case CmdExtensionsScan:
		return l.extensionsScan()
	case CmdReadEntry:
		return l.readEntry(args)
	case CmdLLMChat:
		return l.llmChat(ctx, args)
	case CmdNotify:
		return l.notify(args)
	default:
		return nil, errors.Newf("unknown command %q", command)
	}
}

func argString(args map[string]any, key string) (string, error) {
	value, ok := args[key]
	if !ok {
		return "", errors.Newf("missing argument %q", key)
	}
	s, ok := value.(string)
	if !ok {
		return "", errors.Newf("argument %q must be a string", key)
	}
	return s, nil
}

func marshalResult(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	return raw, nil
}

func (l *Local) readFile(args map[string]any) (json.RawMessage, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{"content": string(content)})
}

func (l *Local) writeFile(args map[string]any) (json.RawMessage, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := argString(args, "content")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{})
}

func (l *Local) stat(args map[string]any) (json.RawMessage, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().UnixMilli(),
	})
}

func (l *Local) readDirectory(args map[string]any) (json.RawMessage, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(dirEntries))
	for _, entry := range dirEntries {
		entries = append(entries, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		})
	}
	return marshalResult(entries)
}

func (l *Local) findFiles(args map[string]any) (json.RawMessage, error) {
	dir, err := argString(args, "dir")
	if err != nil {
		return nil, err
	}
	pattern, err := argString(args, "pattern")
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marshalResult(matches)
}

// watchPath starts an fsnotify watcher on a path. Events are published on
// the returned topic as {op, path} until unwatch_path is called.
func (l *Local) watchPath(args map[string]any) (json.RawMessage, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	watchID := uuid.NewString()
	topic := "fs:" + watchID

	l.mu.Lock()
	l.watchers[watchID] = watcher
	l.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.bus.PublishValue(topic, map[string]any{
					"op":   strings.ToLower(event.Op.String()),
					"path": event.Name,
				})
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warnw("Watcher error", "path", path, "error", watchErr)
			}
		}
	}()

	return marshalResult(map[string]any{"watch_id": watchID, "topic": topic})
}

func (l *Local) unwatchPath(args map[string]any) (json.RawMessage, error) {
	watchID, err := argString(args, "watch_id")
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	watcher, ok := l.watchers[watchID]
	delete(l.watchers, watchID)
	l.mu.Unlock()

	if ok {
		watcher.Close()
	}
	return marshalResult(map[string]any{})
}

func (l *Local) execCommand(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	commandLine, err := argString(args, "command")
	if err != nil {
		return nil, err
	}

	words, err := shellquote.Split(commandLine)
	if err != nil {
		return nil, errors.Wrap(err, "parse command line")
	}
	if len(words) == 0 {
		return nil, errors.New("empty command line")
	}

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	return marshalResult(map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	})
}

func (l *Local) getEnv(args map[string]any) (json.RawMessage, error) {
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{"value": os.Getenv(name)})
}

func (l *Local) systemInfo(ctx context.Context) (json.RawMessage, error) {
	info, err := gopshost.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	virtualMem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{
		"hostname":     info.Hostname,
		"os":           info.OS,
		"platform":     info.Platform,
		"uptime":       info.Uptime,
		"total_memory": virtualMem.Total,
	})
}

func (l *Local) settingsGet(args map[string]any) (json.RawMessage, error) {
	key, err := argString(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := l.store.Get(key)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{"value": value})
}

func (l *Local) settingsSet(args map[string]any) (json.RawMessage, error) {
	key, err := argString(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := argString(args, "value")
	if err != nil {
		return nil, err
	}
	if err := l.store.Set(key, value); err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{})
}

// scanResult is one discovered extension: its install directory, builtin
// flag, and the raw manifest for the manager to parse.
type scanResult struct {
	InstallPath string          `json:"install_path"`
	IsBuiltin   bool            `json:"is_builtin"`
	Manifest    json.RawMessage `json:"manifest"`
}

// extensionsScan enumerates installed extensions from the builtin and
// user directories. A missing directory contributes nothing; an unreadable
// one fails the whole scan, since partial truth is worse than none.
func (l *Local) extensionsScan() (json.RawMessage, error) {
	var results []scanResult

	for _, root := range []struct {
		dir     string
		builtin bool
	}{
		{l.BuiltinDir, true},
		{l.UserDir, false},
	} {
		if root.dir == "" {
			continue
		}
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "scan %s", root.dir)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			installPath := filepath.Join(root.dir, entry.Name())
			manifestPath := filepath.Join(installPath, ManifestFileName)
			raw, err := os.ReadFile(manifestPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, errors.Wrapf(err, "read %s", manifestPath)
			}
			results = append(results, scanResult{
				InstallPath: installPath,
				IsBuiltin:   root.builtin,
				Manifest:    json.RawMessage(raw),
			})
		}
	}

	return marshalResult(results)
}

// readEntry fetches an extension's entry code. The result's content field
// is base64 (JSON []byte encoding); entries are binary modules.
func (l *Local) readEntry(args map[string]any) (json.RawMessage, error) {
	installPath, err := argString(args, "install_path")
	if err != nil {
		return nil, err
	}
	entry, err := argString(args, "entry")
	if err != nil {
		return nil, err
	}

	// Entry must resolve inside the install directory
	resolved := filepath.Join(installPath, filepath.Clean("/"+entry))
	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]any{"content": content})
}

// llmChat opens a streaming completion and pushes fragments to a fresh
// channel topic. The call returns as soon as the stream is started; output
// arrives as push-channel events terminated by a "[DONE]" sentinel.
func (l *Local) llmChat(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	if l.llm == nil {
		return nil, errors.New("no completion model configured")
	}

	request, ok := args["request"]
	if !ok {
		return nil, errors.New(`missing argument "request"`)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "encode completion request")
	}

	topic := "llm:" + uuid.NewString()
	go l.llm.Stream(context.WithoutCancel(ctx), payload, func(fragment json.RawMessage) {
		l.bus.Publish(topic, fragment)
	})

	return marshalResult(map[string]any{"channel": topic})
}

// notify surfaces a transient user notification through the UI event
// topic. The UI chrome renders it; the host only forwards.
func (l *Local) notify(args map[string]any) (json.RawMessage, error) {
	message, err := argString(args, "message")
	if err != nil {
		return nil, err
	}
	level, _ := argString(args, "level")
	if level == "" {
		level = "info"
	}

	l.bus.PublishValue("ui:notifications", map[string]any{
		"level":   level,
		"message": message,
	})
	return marshalResult(map[string]any{})
}
