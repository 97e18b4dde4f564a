// Package wasmhost runs WebAssembly guests that issue HTTP requests through
// the ajax facade, via the ajax_fetch host function.
package wasmhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ajaxbridge/ajaxbridge/core/ajax"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/dustin/go-humanize"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Runner owns a wazero runtime with WASI and the ajax_fetch host module.
type Runner struct {
	runtime wazero.Runtime
}

type RunOptions struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewRunner creates the runtime. cache may be nil.
func NewRunner(ctx context.Context, client *ajax.Client, cache wazero.CompilationCache) (*Runner, error) {
	config := wazero.NewRuntimeConfig()
	if cache != nil {
		config = config.WithCompilationCache(cache)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	if err := RegisterHostFunctions(ctx, runtime, client); err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	return &Runner{runtime: runtime}, nil
}

// RunFile loads a guest module from disk and runs it. See Run.
func (r *Runner) RunFile(ctx context.Context, path string, opts RunOptions) error {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read wasm file: %w", err)
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{path}
	}
	return r.Run(ctx, wasmBytes, opts)
}

// Run compiles and instantiates a guest, running its _start function to
// completion. A zero exit code is not an error.
func (r *Runner) Run(ctx context.Context, wasmBytes []byte, opts RunOptions) error {
	log.Debug(ctx, "Compiling WASM module", "size", humanize.Bytes(uint64(len(wasmBytes))))
	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("compile wasm module: %w", err)
	}
	defer func() {
		if err := compiled.Close(context.Background()); err != nil {
			log.Error(ctx, "Failed to close compiled WASM module", err)
		}
	}()

	config := wazero.NewModuleConfig().WithArgs(opts.Args...)
	if opts.Stdin != nil {
		config = config.WithStdin(opts.Stdin)
	}
	if opts.Stdout != nil {
		config = config.WithStdout(opts.Stdout)
	}
	if opts.Stderr != nil {
		config = config.WithStderr(opts.Stderr)
	}

	log.Debug(ctx, "Instantiating WASM module (will run _start)")
	mod, err := r.runtime.InstantiateModule(ctx, compiled, config)
	if mod != nil {
		defer mod.Close(context.Background())
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("run wasm module: %w", err)
	}
	return nil
}

// Close releases the runtime and every module instantiated in it.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
