package main

import (
	"fmt"
	"strings"

	"wevt_dumper/internal/config"
	"wevt_dumper/internal/maps"
	"wevt_dumper/internal/wevt"
	"wevt_dumper/internal/windowsapi"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) channelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "Print every registered channel path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.client.Channels()
			if err != nil {
				return err
			}
			defer e.Close()
			for name, err := range e.All() {
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, name)
			}
			return e.Close()
		},
	}
}

func (a *app) publishersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publishers",
		Short: "Print every registered publisher id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.client.Publishers()
			if err != nil {
				return err
			}
			defer e.Close()
			for name, err := range e.All() {
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, name)
			}
			return e.Close()
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the state of the event log service and what it exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.queryService(windowsapi.EventLogService)
			switch {
			case st.State == 0:
				fmt.Fprintf(a.stdout, "service:    %s unavailable (%v)\n", st.Name, err)
			default:
				if err != nil {
					a.log.Warn().Err(err).Str("service", st.Name).Msg("Service status is incomplete")
				}
				fmt.Fprintf(a.stdout, "service:    %s %s pid=%d\n", st.Name, st.State, st.ProcessID)
				if len(st.CoHosted) > 0 {
					fmt.Fprintf(a.stdout, "co-hosted:  %s\n", strings.Join(st.CoHosted, ", "))
				}
			}

			channels, err := a.client.ChannelPaths()
			if err != nil {
				return err
			}
			publishers, err := a.client.PublisherNames()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "channels:   %d\n", len(channels))
			fmt.Fprintf(a.stdout, "publishers: %d\n", len(publishers))
			return nil
		},
	}
}

func (a *app) publisherCommand() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "publisher NAME...",
		Short: "Print the decoded metadata of publishers as YAML",
		Long: `Print the decoded metadata of one or more publishers as YAML documents.

With --field, print the raw value of a single publisher property instead
(for example "GUID", "Message File Path" or "Help Link").`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, names []string) error {
			if field != "" {
				f, ok := wevt.LookupField(field)
				if !ok {
					return fmt.Errorf("unknown publisher property %q", field)
				}
				for _, name := range names {
					if err := a.printField(name, f); err != nil {
						return err
					}
				}
				return nil
			}

			backend, err := maps.ParseBackend(a.cfg.Cache.Backend)
			if err != nil {
				return err
			}
			cache := a.client.NewPublisherCache(backend)
			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			for _, name := range names {
				md, err := cache.Get(name)
				if md == nil {
					return err
				}
				if err != nil {
					a.log.Warn().Err(err).Str("publisher", name).Msg("Publisher metadata decoded with errors")
				}
				if err := enc.Encode(md); err != nil {
					return err
				}
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Print only this publisher property.")
	return cmd
}

// printField prints one property of a publisher and releases it.
func (a *app) printField(name string, f wevt.PropertyField) error {
	m, err := a.client.OpenPublisherMetadata(name)
	if err != nil {
		return err
	}
	defer m.Close()

	v, err := m.Field(f)
	if err != nil {
		return err
	}
	switch v := v.(type) {
	case nil, wevt.Null:
		fmt.Fprintf(a.stdout, "%s\t%s\t(not set)\n", name, f)
	case *wevt.EvtHandle:
		fmt.Fprintf(a.stdout, "%s\t%s\t(collection, print it without --field)\n", name, f)
	default:
		fmt.Fprintf(a.stdout, "%s\t%s\t%v\n", name, f, v)
	}
	if err := wevt.ReleaseVariant(v); err != nil {
		return err
	}
	return m.Close()
}

func (a *app) generateConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config PATH",
		Short: "Write an example configuration file (.toml, .yaml or .yml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateExampleConfig(args[0]); err != nil {
				return fmt.Errorf("error generating example config: %w", err)
			}
			fmt.Fprintf(a.stdout, "Generated %s successfully\n", args[0])
			return nil
		},
	}
}
