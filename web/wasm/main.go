//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/cwbudde/algo-stems/internal/webdemo"
	"github.com/cwbudde/algo-stems/player"
	"github.com/cwbudde/algo-stems/player/store"
)

var (
	session *webdemo.Session
	funcs   []js.Func
)

func main() {
	api := js.Global().Get("Object").New()
	api.Set("init", export(func(args []js.Value) any {
		sr := 48000.0
		if len(args) > 0 {
			sr = args[0].Float()
		}
		if session != nil {
			session.Close()
		}
		s, err := webdemo.NewSession(sr, player.WithStore(localStore{}))
		if err != nil {
			return err.Error()
		}
		session = s
		return js.Null()
	}))

	api.Set("load", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		recording := args[0].String()
		return promise(func() error {
			return session.Load(context.Background(), recording)
		})
	}))

	api.Set("play", export(func(args []js.Value) any {
		if session == nil {
			return js.Null()
		}
		return promise(func() error {
			return session.Play(context.Background())
		})
	}))

	api.Set("pause", export(func(args []js.Value) any {
		if session != nil {
			session.Pause()
		}
		return js.Null()
	}))

	api.Set("stop", export(func(args []js.Value) any {
		if session != nil {
			session.Stop()
		}
		return js.Null()
	}))

	api.Set("seek", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		return errValue(session.Seek(args[0].Float()))
	}))

	api.Set("setGain", export(func(args []js.Value) any {
		if session == nil || len(args) < 2 {
			return js.Null()
		}
		v, err := session.SetGain(args[0].String(), args[1].Float())
		if err != nil {
			return err.Error()
		}
		return v
	}))

	api.Set("setMasterGain", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		return session.SetMasterGain(args[0].Float())
	}))

	api.Set("toggleMute", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		v, err := session.ToggleMute(args[0].String())
		if err != nil {
			return err.Error()
		}
		return v
	}))

	api.Set("toggleSolo", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		v, err := session.ToggleSolo(args[0].String())
		if err != nil {
			return err.Error()
		}
		return v
	}))

	api.Set("setEffect", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Null()
		}
		config := ""
		if len(args) > 1 && args[1].Type() == js.TypeString {
			config = args[1].String()
		}
		return errValue(session.SetEffect(args[0].String(), config))
	}))

	api.Set("resetClip", export(func(args []js.Value) any {
		if session != nil {
			session.ResetClip()
		}
		return js.Null()
	}))

	api.Set("render", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Global().Get("Float32Array").New(0)
		}
		buf := session.Render(args[0].Int())
		arr := js.Global().Get("Float32Array").New(len(buf))
		for i, v := range buf {
			arr.SetIndex(i, v)
		}
		return arr
	}))

	api.Set("responseCurve", export(func(args []js.Value) any {
		if session == nil || len(args) < 1 {
			return js.Global().Get("Float32Array").New(0)
		}
		input := args[0]
		freqs := make([]float64, input.Length())
		for i := range freqs {
			freqs[i] = input.Index(i).Float()
		}
		resp := session.ResponseCurveDB(freqs)
		arr := js.Global().Get("Float32Array").New(len(resp))
		for i := range resp {
			arr.SetIndex(i, resp[i])
		}
		return arr
	}))

	api.Set("spectrum", export(func(args []js.Value) any {
		if session == nil {
			return js.Global().Get("Float32Array").New(0)
		}
		bins, _ := session.Spectrum()
		arr := js.Global().Get("Float32Array").New(len(bins))
		for i, v := range bins {
			arr.SetIndex(i, v)
		}
		return arr
	}))

	api.Set("state", export(func(args []js.Value) any {
		if session == nil {
			return js.Null()
		}
		s, err := session.StateJSON()
		if err != nil {
			return js.Null()
		}
		return s
	}))

	js.Global().Set("AlgoStems", api)
	select {}
}

func export(fn func([]js.Value) any) js.Func {
	f := js.FuncOf(func(_ js.Value, args []js.Value) any {
		return fn(args)
	})
	funcs = append(funcs, f)
	return f
}

func errValue(err error) any {
	if err != nil {
		return err.Error()
	}
	return js.Null()
}

// promise runs fn off the event loop. Fetching stems blocks on the browser,
// which deadlocks if done in the calling callback.
func promise(fn func() error) js.Value {
	var handler js.Func
	handler = js.FuncOf(func(_ js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			defer handler.Release()
			if err := fn(); err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(js.Null())
		}()
		return nil
	})
	return js.Global().Get("Promise").New(handler)
}

// localStore keeps documents in window.localStorage.
type localStore struct{}

const storagePrefix = "algo-stems:"

func (localStore) Get(_ context.Context, id string) (store.Document, error) {
	item := js.Global().Get("localStorage").Call("getItem", storagePrefix+id)
	if item.IsNull() {
		return store.Document{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	var doc store.Document
	if err := json.Unmarshal([]byte(item.String()), &doc); err != nil {
		return store.Document{}, fmt.Errorf("decode %q: %w", id, err)
	}
	return doc, nil
}

func (localStore) Put(_ context.Context, doc store.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	js.Global().Get("localStorage").Call("setItem", storagePrefix+doc.RecordingID, string(data))
	return nil
}
