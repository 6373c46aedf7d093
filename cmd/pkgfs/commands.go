package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foundry/pkgfs/internal/client"
	"github.com/foundry/pkgfs/internal/pathcodec"
)

const (
	defaultServer = "http://localhost:8080"
	tokenEnv      = "PKGFS_TOKEN"
)

type options struct {
	server string
	token  string
}

func (o *options) client() (*client.Client, error) {
	token := o.token
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if token == "" {
		return nil, fmt.Errorf("--token or %s is required", tokenEnv)
	}
	return client.New(o.server, token), nil
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "pkgfs",
		Short:         "Client for the pkgfs package store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "server URL")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "authentication token (default $"+tokenEnv+")")

	root.AddCommand(
		newPushCommand(opts),
		newPullCommand(opts),
		newListCommand(opts),
		newVersionsCommand(opts),
		newInfoCommand(opts),
		newExistsCommand(opts),
		newDeleteCommand(opts),
		newRmdirCommand(opts),
	)
	return root
}

func newPushCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "push <package> <version> <file>",
		Short: "Upload a package version and make it the latest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			name, version, filePath := args[0], args[1], args[2]

			file, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("opening file: %w", err)
			}
			defer file.Close()
			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("reading file info: %w", err)
			}

			pr := &progressReader{reader: file, total: info.Size(), label: "Uploading", out: cmd.ErrOrStderr()}
			start := time.Now()
			resp, err := c.Push(cmd.Context(), name, version, pr, info.Size())
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pushed %s\n", resp.Path)
			fmt.Fprintf(out, "  Size:     %s\n", humanize.IBytes(uint64(resp.Size)))
			fmt.Fprintf(out, "  Duration: %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newPullCommand(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pull <package> [version]",
		Short: "Download the latest or a specific package version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			path := args[0]
			if len(args) == 2 {
				path = pathcodec.Compose(args[0], args[1])
			}

			start := time.Now()
			dl, err := c.Pull(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer dl.Body.Close()

			target := output
			if target == "" {
				name, version, err := pathcodec.Decompose(dl.FullPath)
				if err != nil {
					return fmt.Errorf("server returned path %q: %w", dl.FullPath, err)
				}
				target = name + "." + version + pathcodec.DefaultSuffix
			}
			n, err := writeFileAtomic(target, dl.Body, dl.Size, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pulled %s -> %s\n", dl.FullPath, target)
			fmt.Fprintf(out, "  Size:     %s\n", humanize.IBytes(uint64(n)))
			fmt.Fprintf(out, "  Duration: %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	return cmd
}

// writeFileAtomic streams r to path through a .part file.
func writeFileAtomic(path string, r io.Reader, size int64, progress io.Writer) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating output file: %w", err)
	}
	success := false
	defer func() {
		file.Close()
		if !success {
			_ = os.Remove(tmp)
		}
	}()

	pw := &progressWriter{writer: file, total: size, label: "Downloading", out: progress}
	n, err := io.Copy(pw, r)
	fmt.Fprintln(progress)
	if err != nil {
		return 0, fmt.Errorf("downloading: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("closing downloaded file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("finalizing output file: %w", err)
	}
	success = true
	return n, nil
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list [package]",
		Short: "List packages, or the stored entries of one package",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			resp, err := c.List(cmd.Context(), dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Entries) == 0 {
				fmt.Fprintln(out, "No packages found.")
				return nil
			}
			for _, e := range resp.Entries {
				fmt.Fprintf(out, "  - %s\n", e)
			}
			return nil
		},
	}
}

func newVersionsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <package>",
		Short: "List stored versions of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Versions) == 0 {
				fmt.Fprintf(out, "No versions of %s.\n", resp.Package)
				return nil
			}
			for _, v := range resp.Versions {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
}

func newInfoCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info <package>",
		Short: "Show a package's latest version and timestamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			latest := st.LatestVersion
			if !st.Exists {
				latest = "(none)"
			}
			fmt.Fprintf(out, "%s\n", st.Name)
			fmt.Fprintf(out, "  Latest:        %s\n", latest)
			fmt.Fprintf(out, "  Versions:      %d\n", st.Versions)
			fmt.Fprintf(out, "  Created:       %s\n", formatTime(st.Created))
			fmt.Fprintf(out, "  Last modified: %s\n", formatTime(st.LastModified))
			fmt.Fprintf(out, "  Last accessed: %s\n", formatTime(st.LastAccessed))
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}

func newExistsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <package>[|version]",
		Short: "Exit non-zero unless the package or version exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ok, err := c.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s exists\n", args[0])
			return nil
		},
	}
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package> <version>",
		Short: "Delete one package version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", pathcodec.Compose(args[0], args[1]))
			return nil
		},
	}
}

func newRmdirCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <package>",
		Short: "Delete a package and every stored version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.DeleteDirectory(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted package %s\n", args[0])
			return nil
		},
	}
}
