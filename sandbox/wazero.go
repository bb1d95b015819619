package sandbox

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/config"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/logger"
)

const (
	hostModuleName = "lumen"

	exportAlloc      = "wasm_alloc"
	exportFree       = "wasm_free"
	exportActivate   = "activate"
	exportDeactivate = "deactivate"
)

// WazeroLoader creates one wazero runtime per extension, capped at the
// configured memory size.
type WazeroLoader struct {
	memoryPages uint32
	log         *zap.SugaredLogger
}

// NewWazeroLoader creates a loader from the sandbox configuration.
func NewWazeroLoader(cfg config.SandboxConfig) *WazeroLoader {
	return &WazeroLoader{
		memoryPages: uint32(cfg.MemoryPages),
		log:         logger.Named("sandbox"),
	}
}

// Load compiles code and instantiates it with the host module. host_call
// dispatches JSON capability requests; log forwards guest log lines. The
// guest must export wasm_alloc, wasm_free, and activate.
func (l *WazeroLoader) Load(ctx context.Context, extension string, code []byte, dispatcher Dispatcher) (Instance, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(l.memoryPages).
		WithCloseOnContextDone(true))

	inst := &wazeroInstance{
		extension: extension,
		runtime:   r,
		log:       l.log.With(logger.FieldExtension, extension),
	}

	_, err := r.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) uint64 {
			return inst.hostCall(ctx, mod, dispatcher, ptr, length)
		}).
		Export("host_call").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			inst.guestLog(mod, ptr, length)
		}).
		Export("log").
		Instantiate(ctx)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrapf(err, "instantiating host module for %s", extension)
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrapf(err, "compiling extension %s", extension)
	}

	mod, err := r.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(extension))
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrapf(err, "instantiating extension %s", extension)
	}

	for _, required := range []string{exportAlloc, exportFree, exportActivate} {
		if mod.ExportedFunction(required) == nil {
			r.Close(ctx)
			return nil, errors.Newf("extension %s does not export %s", extension, required)
		}
	}

	inst.mod = mod
	return inst, nil
}

// wazeroInstance is a live guest module. Guest calls are serialized by
// a mutex; the linear memory protocol is not reentrant.
type wazeroInstance struct {
	extension string
	runtime   wazero.Runtime
	mod       api.Module
	log       *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func (i *wazeroInstance) Activate(ctx context.Context, payload json.RawMessage) error {
	result, err := i.call(ctx, exportActivate, []byte(payload))
	if err != nil {
		return err
	}
	return decodeGuestError(i.extension, exportActivate, result)
}

func (i *wazeroInstance) Deactivate(ctx context.Context) error {
	i.mu.Lock()
	hasDeactivate := !i.closed && i.mod.ExportedFunction(exportDeactivate) != nil
	i.mu.Unlock()
	if !hasDeactivate {
		return nil
	}
	result, err := i.call(ctx, exportDeactivate, nil)
	if err != nil {
		return err
	}
	return decodeGuestError(i.extension, exportDeactivate, result)
}

func (i *wazeroInstance) Invoke(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error) {
	result, err := i.call(ctx, export, []byte(args))
	if err != nil {
		return nil, err
	}
	if err := decodeGuestError(i.extension, export, result); err != nil {
		return nil, err
	}
	return json.RawMessage(result), nil
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.runtime.Close(ctx)
}

// decodeGuestError treats an empty result as success and a {"error"}
// object as a guest-reported failure. Any other payload is data.
func decodeGuestError(extension, export string, result []byte) error {
	if len(result) == 0 {
		return nil
	}
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(result, &probe); err != nil {
		return nil
	}
	if probe.Error != nil {
		return errors.Newf("extension %s %s failed: %s", extension, export, *probe.Error)
	}
	return nil
}

// guestLog surfaces guest log lines through the host logger.
func (i *wazeroInstance) guestLog(mod api.Module, ptr, length uint32) {
	line, ok := mod.Memory().Read(ptr, length)
	if !ok {
		i.log.Errorw("Guest log pointer out of range", "ptr", ptr, "len", length)
		return
	}
	i.log.Infow(string(line), "source", "guest")
}

// hostCall decodes the guest's JSON request, dispatches it, and writes
// the response envelope back into guest memory.
func (i *wazeroInstance) hostCall(ctx context.Context, mod api.Module, dispatcher Dispatcher, ptr, length uint32) uint64 {
	request, ok := mod.Memory().Read(ptr, length)
	if !ok {
		i.log.Errorw("Guest host_call pointer out of range", "ptr", ptr, "len", length)
		return 0
	}

	var req hostRequest
	response := hostResponse{}
	if err := json.Unmarshal(request, &req); err != nil {
		response.Error = "malformed host_call request: " + err.Error()
	} else {
		result, err := dispatcher.Dispatch(ctx, req.Method, req.Args)
		if err != nil {
			response.Error = err.Error()
		} else {
			response.OK = result
		}
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		i.log.Errorw("Encoding host_call response", logger.FieldError, err)
		return 0
	}
	packed, err := writeGuestBytes(ctx, mod, encoded)
	if err != nil {
		i.log.Errorw("Writing host_call response into guest memory", logger.FieldError, err)
		return 0
	}
	return packed
}

// call invokes a guest export with the (ptr, len) string protocol and
// returns the unpacked result bytes. A packed zero return means an
// empty result.
func (i *wazeroInstance) call(ctx context.Context, export string, input []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.Newf("extension %s instance is closed", i.extension)
	}

	allocFn := i.mod.ExportedFunction(exportAlloc)
	freeFn := i.mod.ExportedFunction(exportFree)
	targetFn := i.mod.ExportedFunction(export)
	if allocFn == nil || freeFn == nil || targetFn == nil {
		return nil, errors.Newf("extension %s missing export %q", i.extension, export)
	}

	inputSize := uint64(len(input))
	var inputPtr uint64
	if inputSize > 0 {
		results, err := allocFn.Call(ctx, inputSize)
		if err != nil {
			return nil, errors.Wrapf(err, "alloc for %s (size=%d)", export, inputSize)
		}
		inputPtr = results[0]
		if inputPtr == 0 {
			return nil, errors.Newf("alloc returned null for %s (size=%d)", export, inputSize)
		}
		if !i.mod.Memory().Write(uint32(inputPtr), input) {
			_, _ = freeFn.Call(ctx, inputPtr, inputSize)
			return nil, errors.Newf("%s memory write out of range at ptr=%d size=%d", export, inputPtr, inputSize)
		}
	}

	results, err := targetFn.Call(ctx, inputPtr, inputSize)
	if inputSize > 0 {
		_, _ = freeFn.Call(ctx, inputPtr, inputSize)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "guest call %s", export)
	}

	packed := results[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed & 0xFFFFFFFF)
	if resultPtr == 0 || resultLen == 0 {
		return nil, nil
	}

	resultBytes, ok := i.mod.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, errors.Newf("%s memory read out of range at ptr=%d len=%d", export, resultPtr, resultLen)
	}

	// copy before freeing, the view is invalidated by wasm_free
	output := make([]byte, len(resultBytes))
	copy(output, resultBytes)

	if _, err := freeFn.Call(ctx, uint64(resultPtr), uint64(resultLen)); err != nil {
		return nil, errors.Wrapf(err, "%s failed to free result buffer at ptr=%d size=%d", export, resultPtr, resultLen)
	}
	return output, nil
}

// writeGuestBytes allocates guest memory via wasm_alloc, writes data,
// and returns the packed (ptr << 32) | len. The guest owns the buffer
// and frees it after reading.
func writeGuestBytes(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	allocFn := mod.ExportedFunction(exportAlloc)
	if allocFn == nil {
		return 0, errors.New("guest does not export " + exportAlloc)
	}
	size := uint64(len(data))
	if size == 0 {
		return 0, nil
	}
	results, err := allocFn.Call(ctx, size)
	if err != nil {
		return 0, errors.Wrap(err, "alloc for host_call response")
	}
	ptr := results[0]
	if ptr == 0 {
		return 0, errors.Newf("alloc returned null for host_call response (size=%d)", size)
	}
	if !mod.Memory().Write(uint32(ptr), data) {
		return 0, errors.Newf("host_call response write out of range at ptr=%d size=%d", ptr, size)
	}
	return (ptr << 32) | size, nil
}
