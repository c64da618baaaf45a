// Command kvd is the minimal command-line front-end for the store: it
// dispatches exactly one of set/get/rm and exits. Panic-report plumbing,
// environment parsing beyond LOG_FILE, and logging configuration beyond
// a default logger are treated as external collaborators and kept
// deliberately thin here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kvd/internal/kvd"
	"kvd/internal/kvderr"
	"kvd/internal/logging"
)

const defaultLogDir = "logd"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "kvd: panic: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "kvd",
		Short:         "kvd is a segmented-log key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("missing command, expected one of: set, get, rm")
		},
	}

	var logFileFlag string
	root.PersistentFlags().StringVarP(&logFileFlag, "file", "f", "", "path to the store's log directory")
	_ = v.BindPFlag("file", root.PersistentFlags().Lookup("file"))
	_ = v.BindEnv("file", "LOG_FILE")
	v.SetDefault("file", defaultLogDir)

	openStore := func() (*kvd.Store, error) {
		log, err := logging.New(false)
		if err != nil {
			log = logging.Nop()
		}
		return kvd.Open(v.GetString("file"), kvd.WithLogger(log))
	}

	root.AddCommand(newSetCmd(openStore))
	root.AddCommand(newGetCmd(openStore))
	root.AddCommand(newRmCmd(openStore))

	return root
}

func newSetCmd(openStore func() (*kvd.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "set the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Set(args[0], args[1])
		},
	}
}

func newGetCmd(openStore func() (*kvd.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "get the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			val, found, err := s.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("Key not found")
				return nil
			}
			fmt.Println(val)
			return nil
		},
	}
}

func newRmCmd(openStore func() (*kvd.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Remove(args[0]); err != nil {
				if err == kvderr.ErrNotFound {
					return fmt.Errorf("Key not found")
				}
				return err
			}
			return nil
		},
	}
}
