package cmd

import (
	"os"

	"github.com/ajaxbridge/ajaxbridge/core/wasmhost"
	"github.com/ajaxbridge/ajaxbridge/log"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
)

var wasmCacheDir string

func init() {
	wasmCmd.Flags().StringVar(&wasmCacheDir, "compilecache", "", "folder used to cache compiled modules")
	rootCmd.AddCommand(wasmCmd)
}

var wasmCmd = &cobra.Command{
	Use:   "wasm [module.wasm] [args...]",
	Short: "Run a WASI module that can call ajax_fetch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := newBridge(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		var cache wazero.CompilationCache
		if wasmCacheDir != "" {
			cache, err = wazero.NewCompilationCacheWithDir(wasmCacheDir)
			if err != nil {
				log.Warn(ctx, "Could not open compilation cache, compiling from scratch", "dir", wasmCacheDir, err)
				cache = nil
			}
		}

		runner, err := wasmhost.NewRunner(ctx, b.client, cache)
		if err != nil {
			return err
		}
		defer func() {
			if err := runner.Close(ctx); err != nil {
				log.Error(ctx, "Error closing wasm runtime", err)
			}
		}()

		return runner.RunFile(ctx, args[0], wasmhost.RunOptions{
			Args:   args,
			Stdin:  os.Stdin,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
	},
}
