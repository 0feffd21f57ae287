package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/netprefs/internal/watch"
	"github.com/timzifer/netprefs/migration"
	"github.com/timzifer/netprefs/network"
	"github.com/timzifer/netprefs/prefs"
)

func (a *app) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func enabledLabel(enabled bool) string {
	if enabled {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgYellow.Sprint("no")
}

func newServicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the services of the document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, model, err := a.open(a.cfg.Document.Path)
			if err != nil {
				return err
			}
			t := a.newTable()
			t.AppendHeader(table.Row{"ID", "NAME", "INTERFACE", "ENABLED", "RANK", "SETS"})
			for _, service := range model.Services() {
				rank, err := service.PrimaryRank()
				if err != nil {
					a.logger.Warn().Err(err).Str("service", service.ID()).Msg("invalid primary rank")
				}
				var sets []string
				for _, set := range service.Sets() {
					sets = append(sets, set.ID())
				}
				t.AppendRow(table.Row{
					service.ID(),
					service.Name(),
					service.Interface().String(),
					enabledLabel(service.Enabled()),
					rank.String(),
					strings.Join(sets, ","),
				})
			}
			t.Render()
			return nil
		},
	}
}

func newSetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sets",
		Short: "List the sets of the document with their service order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, model, err := a.open(a.cfg.Document.Path)
			if err != nil {
				return err
			}
			currentID := ""
			if current, err := model.CurrentSet(); err == nil {
				currentID = current.ID()
			}
			t := a.newTable()
			t.AppendHeader(table.Row{"ID", "NAME", "CURRENT", "SERVICES"})
			for _, set := range model.Sets() {
				current := ""
				if set.ID() == currentID {
					current = text.FgGreen.Sprint("*")
				}
				t.AppendRow(table.Row{set.ID(), set.Name(), current, strings.Join(set.ServiceOrder(), ",")})
			}
			t.Render()
			return nil
		},
	}
}

func newEnableCmd(a *app, enable bool) *cobra.Command {
	use, short := "enable", "Enable a service"
	if !enable {
		use, short = "disable", "Disable a service, keeping its configuration"
	}
	return &cobra.Command{
		Use:   use + " SERVICE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.update(func(model *network.Model) error {
				service, err := model.Service(args[0])
				if err != nil {
					return err
				}
				return service.SetEnabled(enable)
			})
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	var (
		from         string
		mappingsPath string
		filter       string
		identitySets bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate services from another document into the configured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, src, err := a.open(from)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			var m migration.Mappings
			if mappingsPath != "" {
				if m, err = migration.LoadMappings(mappingsPath); err != nil {
					return err
				}
			}
			if len(m.ServiceSets) == 0 {
				m.ServiceSets = migration.ServiceSetsFrom(src)
			}
			if identitySets && len(m.Sets) == 0 {
				m.Sets = migration.IdentitySets(src)
			}
			engine, err := migration.New(
				migration.WithLogger(a.logger),
				migration.WithTelemetry(a.collector),
				migration.WithFilter(filter),
			)
			if err != nil {
				return err
			}

			var report *migration.Report
			var failures error
			err = a.update(func(dst *network.Model) error {
				report, failures = engine.Migrate(src, dst, m)
				if report == nil {
					return failures
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.printReport(report)
			return failures
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source preferences document")
	cmd.Flags().StringVar(&mappingsPath, "mappings", "", "YAML file with device, set and service set mappings")
	cmd.Flags().StringVar(&filter, "filter", "", `expression selecting services, e.g. Type == "Ethernet"`)
	cmd.Flags().BoolVar(&identitySets, "identity-sets", false, "map every source set to the set with the same identifier")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func (a *app) printReport(report *migration.Report) {
	t := a.newTable()
	t.AppendHeader(table.Row{"SERVICE", "RESULT", "DETAIL"})
	for _, id := range report.Migrated {
		t.AppendRow(table.Row{id, text.FgGreen.Sprint("migrated"), ""})
	}
	for _, id := range report.Skipped {
		t.AppendRow(table.Row{id, text.FgHiBlack.Sprint("skipped"), ""})
	}
	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		t.AppendRow(table.Row{id, text.FgRed.Sprint("failed"), report.Failed[id].Error()})
	}
	t.Render()
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Log the configuration every time the document is replaced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.watch(ctx)
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	store, model, err := a.open(a.cfg.Document.Path)
	if err != nil {
		return err
	}
	model.LogConfiguration(zerolog.InfoLevel, "current configuration")
	w, err := watch.New(store.Location(),
		watch.WithDebounce(a.cfg.Watch.Debounce.Duration),
		watch.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.logger.Info().Str("document", w.Path()).Msg("watching document")
	return w.Run(ctx, func(sig prefs.Signature) {
		_, model, err := a.open(w.Path())
		if err != nil {
			a.logger.Warn().Err(err).Msg("open changed document")
			return
		}
		fmt.Fprintf(a.out, "document changed (%s)\n", sig)
		model.LogConfiguration(zerolog.InfoLevel, "document changed")
	})
}

func newCatalogCmd(a *app) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Template catalog tools",
	}
	catalog.AddCommand(&cobra.Command{
		Use:   "check [PATH]",
		Short: "Validate a template catalog and list its entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := a.catalog(path)
			if err != nil {
				return err
			}
			t := a.newTable()
			t.AppendHeader(table.Row{"KEY", "KIND"})
			for _, key := range c.InterfaceKeys() {
				t.AppendRow(table.Row{key, "interface"})
			}
			for _, key := range c.ProtocolKeys() {
				t.AppendRow(table.Row{key, "protocols"})
			}
			t.Render()
			fmt.Fprintf(a.out, "catalog OK: %d interface templates, %d protocol template groups\n",
				len(c.InterfaceKeys()), len(c.ProtocolKeys()))
			return nil
		},
	})
	return catalog
}
