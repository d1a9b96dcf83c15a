//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall/js"

	"github.com/printdesk/editor/internal/autosave"
	"github.com/printdesk/editor/internal/config"
	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/engine"
	"github.com/printdesk/editor/internal/geometry"
	"github.com/printdesk/editor/internal/input"
	"github.com/printdesk/editor/internal/render"
)

var (
	mu         sync.Mutex
	session    *engine.Session
	controller *input.Controller
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	// Create the editor API object
	editor := js.Global().Get("Object").New()

	// --- Commands (frontend → editor) ---
	editor.Set("loadDocument", js.FuncOf(loadDocument))
	editor.Set("pointerDown", js.FuncOf(pointerDown))
	editor.Set("pointerMove", js.FuncOf(pointerMove))
	editor.Set("pointerUp", js.FuncOf(pointerUp))
	editor.Set("pointerCancel", js.FuncOf(pointerCancel))
	editor.Set("key", js.FuncOf(key))
	editor.Set("apply", js.FuncOf(apply))
	editor.Set("undo", js.FuncOf(undo))
	editor.Set("redo", js.FuncOf(redo))
	editor.Set("setGrid", js.FuncOf(setGrid))
	editor.Set("setZoom", js.FuncOf(setZoom))
	editor.Set("close", js.FuncOf(closeDocument))

	// --- Queries (frontend ← editor) ---
	editor.Set("render", js.FuncOf(renderNow))
	editor.Set("getScene", js.FuncOf(getScene))
	editor.Set("getSelection", js.FuncOf(getSelection))
	editor.Set("getStatus", js.FuncOf(getStatus))

	// Register on global scope
	js.Global().Set("printdeskEditor", editor)

	// Signal that WASM is ready
	js.Global().Set("printdeskWasmReady", js.ValueOf(true))

	// Keep Go runtime alive
	select {}
}

// --- Host bindings ---

// hostSaver persists through the host's saveDocument(docId, json) promise.
type hostSaver struct {
	host js.Value
}

func (h hostSaver) Save(ctx context.Context, docID string, data []byte) error {
	done := make(chan error, 1)
	var then, catch js.Func
	then = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		done <- nil
		return nil
	})
	catch = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		msg := "save rejected"
		if len(args) > 0 {
			msg = args[0].Call("toString").String()
		}
		done <- errors.New(msg)
		return nil
	})
	defer then.Release()
	defer catch.Release()

	h.host.Call("saveDocument", docID, string(data)).Call("then", then).Call("catch", catch)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// animationFrames schedules callbacks with requestAnimationFrame.
type animationFrames struct {
	mu    sync.Mutex
	frame uint64
}

func (a *animationFrames) RequestFrame(fn func(frame uint64)) {
	var cb js.Func
	cb = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		cb.Release()
		a.mu.Lock()
		a.frame++
		frame := a.frame
		a.mu.Unlock()
		fn(frame)
		return nil
	})
	js.Global().Call("requestAnimationFrame", cb)
}

// hostSurface hands draw commands to the host's draw(background, json).
type hostSurface struct {
	host          js.Value
	width, height int
}

func (s hostSurface) Size() (int, int) { return s.width, s.height }

func (s hostSurface) Draw(background string, commands []render.DrawCommand) error {
	data, err := json.Marshal(commands)
	if err != nil {
		return fmt.Errorf("marshal draw commands: %w", err)
	}
	s.host.Call("draw", background, string(data))
	return nil
}

// --- Command Handlers ---

// loadDocument(host, documentJSON, width, height) opens a session. host
// provides saveDocument, draw and optionally onStatus.
func loadDocument(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult(errors.New("expected host, document JSON, width and height"))
	}
	host := args[0]
	scene, err := document.Decode([]byte(args[1].String()))
	if err != nil {
		return errorResult(err)
	}

	cfg := config.Default()
	deps := engine.Deps{
		Saver:        hostSaver{host: host},
		HistoryDepth: cfg.HistoryDepth,
		Autosave: autosave.Options{
			Debounce:    cfg.AutosaveDebounce,
			Interval:    cfg.AutosaveInterval,
			SaveTimeout: cfg.SaveTimeout,
			OnStatus: func(st autosave.Status) {
				if fn := host.Get("onStatus"); fn.Type() == js.TypeFunction {
					data, _ := json.Marshal(st)
					fn.Invoke(string(data))
				}
			},
		},
		Frames:  &animationFrames{},
		Surface: hostSurface{host: host, width: args[2].Int(), height: args[3].Int()},
		Assist: geometry.Assist{
			Grid:       geometry.Grid{Size: cfg.GridSize, Snap: cfg.GridSnap, Visible: cfg.GridVisible},
			Guides:     true,
			Tolerance:  cfg.GuideTolerance,
			Precedence: geometry.Precedence(cfg.GuidePrecedence),
		},
	}

	mu.Lock()
	prev := session
	mu.Unlock()
	if prev != nil {
		go prev.Close(context.Background())
	}

	s, err := engine.NewSession(scene, deps)
	if err != nil {
		return errorResult(err)
	}
	mu.Lock()
	session = s
	controller = input.NewController(s, slog.Default())
	mu.Unlock()
	return okResult()
}

func pointerDown(this js.Value, args []js.Value) interface{} {
	return withController(func(c *input.Controller) error { return c.PointerDown(pointerEvent(args)) })
}

func pointerMove(this js.Value, args []js.Value) interface{} {
	return withController(func(c *input.Controller) error { return c.PointerMove(pointerEvent(args)) })
}

func pointerUp(this js.Value, args []js.Value) interface{} {
	return withController(func(c *input.Controller) error { return c.PointerUp(pointerEvent(args)) })
}

func pointerCancel(this js.Value, args []js.Value) interface{} {
	return withController(func(c *input.Controller) error { return c.PointerCancel() })
}

// key(key, mod, shift, alt) resolves to whether the key was handled. It
// returns a promise because a save shortcut waits on the host.
func key(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult(errors.New("expected key, mod, shift and alt"))
	}
	ev := input.KeyEvent{Key: args[0].String(), Mod: args[1].Bool(), Shift: args[2].Bool(), Alt: args[3].Bool()}
	c := currentController()
	if c == nil {
		return errorResult(errNoDocument)
	}
	return promise(func() (any, error) {
		return c.Key(context.Background(), ev)
	})
}

// apply(operationsJSON) commits a batch of operations as one edit.
func apply(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult(errors.New("missing operations JSON"))
	}
	var ops []document.Operation
	if err := json.Unmarshal([]byte(args[0].String()), &ops); err != nil {
		return errorResult(err)
	}
	return withSession(func(s *engine.Session) error { return s.Apply(ops...) })
}

func undo(this js.Value, args []js.Value) interface{} {
	return withSession((*engine.Session).Undo)
}

func redo(this js.Value, args []js.Value) interface{} {
	return withSession((*engine.Session).Redo)
}

// setGrid(gridJSON) replaces the grid settings.
func setGrid(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult(errors.New("missing grid JSON"))
	}
	var g geometry.Grid
	if err := json.Unmarshal([]byte(args[0].String()), &g); err != nil {
		return errorResult(err)
	}
	return withSession(func(s *engine.Session) error {
		s.SetGrid(g)
		return nil
	})
}

func setZoom(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return nil
	}
	zoom := args[0].Float()
	return withSession(func(s *engine.Session) error {
		s.SetZoom(zoom)
		return nil
	})
}

// closeDocument runs the final save and resolves once it has finished.
func closeDocument(this js.Value, args []js.Value) interface{} {
	mu.Lock()
	s := session
	session, controller = nil, nil
	mu.Unlock()
	if s == nil {
		return okResult()
	}
	return promise(func() (any, error) {
		return true, s.Close(context.Background())
	})
}

// --- Query Handlers ---

func renderNow(this js.Value, args []js.Value) interface{} {
	s := currentSession()
	if s == nil {
		return js.ValueOf("[]")
	}
	commands, err := s.Render()
	if err != nil {
		return errorResult(err)
	}
	return jsonValue(commands)
}

func getScene(this js.Value, args []js.Value) interface{} {
	s := currentSession()
	if s == nil {
		return js.ValueOf("")
	}
	data, err := s.Scene().Encode()
	if err != nil {
		return errorResult(err)
	}
	return js.ValueOf(string(data))
}

func getSelection(this js.Value, args []js.Value) interface{} {
	s := currentSession()
	if s == nil {
		return js.ValueOf("[]")
	}
	return jsonValue(s.Selection())
}

func getStatus(this js.Value, args []js.Value) interface{} {
	s := currentSession()
	if s == nil {
		return js.ValueOf("{}")
	}
	return jsonValue(s.Status())
}

// --- Helpers ---

var errNoDocument = errors.New("no document loaded")

func currentSession() *engine.Session {
	mu.Lock()
	defer mu.Unlock()
	return session
}

func currentController() *input.Controller {
	mu.Lock()
	defer mu.Unlock()
	return controller
}

func withSession(fn func(*engine.Session) error) interface{} {
	s := currentSession()
	if s == nil {
		return errorResult(errNoDocument)
	}
	if err := fn(s); err != nil {
		return errorResult(err)
	}
	return okResult()
}

func withController(fn func(*input.Controller) error) interface{} {
	c := currentController()
	if c == nil {
		return errorResult(errNoDocument)
	}
	if err := fn(c); err != nil {
		return errorResult(err)
	}
	return okResult()
}

func pointerEvent(args []js.Value) input.PointerEvent {
	var ev input.PointerEvent
	if len(args) > 1 {
		ev.X, ev.Y = args[0].Float(), args[1].Float()
	}
	if len(args) > 2 {
		ev.Shift = args[2].Bool()
	}
	if len(args) > 3 {
		ev.Alt = args[3].Bool()
	}
	return ev
}

// promise runs fn off the event loop and settles a JS promise with its
// result.
func promise(fn func() (any, error)) js.Value {
	var executor js.Func
	executor = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		executor.Release()
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(js.ValueOf(v))
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}

func jsonValue(v any) js.Value {
	data, err := json.Marshal(v)
	if err != nil {
		return js.ValueOf(map[string]interface{}{"error": err.Error()})
	}
	return js.ValueOf(string(data))
}

func okResult() js.Value {
	return js.ValueOf(map[string]interface{}{"ok": true})
}

func errorResult(err error) js.Value {
	return js.ValueOf(map[string]interface{}{"error": err.Error()})
}
