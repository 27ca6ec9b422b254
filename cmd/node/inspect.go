package main

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/format"
	"github.com/vx-labs/cluster-sharding/identity"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/persistence/boltstore"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/coordinator"
	"go.uber.org/zap"
)

const coordinatorTemplate = `{{ "Coordinator:" | faint }} {{ .TypeName | green | bold }} {{ "at sequence" | faint }} {{ .Sequence }}
{{- range .Regions }}
• {{ .Path | address | bold }} {{ .Path | localPath | faint }}
  {{ "Shards:" | faint }} {{ .Shards | join }}
{{- end }}
{{- range .Proxies }}
• {{ . | address | bold }} {{ . | localPath | faint }} {{ "(proxy)" | faint }}
{{- end }}
{{ "Unallocated:" | faint }} {{ .Unallocated | join }}
`

const journalsTemplate = `{{ range . }}• {{ . | green }}
{{ end }}`

type regionView struct {
	Path   string
	Shards []string
}

type coordinatorView struct {
	TypeName    string
	Sequence    uint64
	Regions     []regionView
	Proxies     []string
	Unallocated []string
}

func viewOf(typeName string, sequence uint64, state sharding.State) coordinatorView {
	view := coordinatorView{TypeName: typeName, Sequence: sequence, Unallocated: state.UnallocatedShards()}
	for _, region := range state.Regions() {
		shards := append([]string{}, region.Shards...)
		sort.Strings(shards)
		view.Regions = append(view.Regions, regionView{Path: region.Region.Path(), Shards: shards})
	}
	for _, proxy := range state.Proxies() {
		view.Proxies = append(view.Proxies, proxy.Path())
	}
	return view
}

func printCoordinator(out io.Writer, journal persistence.Journal, typeName string) error {
	system := actor.NewSystem(identity.Address{Protocol: identity.DefaultProtocol, System: "inspect"}, zap.NewNop())
	state, sequence, err := coordinator.Recover(system, journal, typeName)
	if err != nil {
		return err
	}
	return format.ParseTemplate(coordinatorTemplate).Execute(out, viewOf(typeName, sequence, state))
}

func openBolt(v *viper.Viper) (*boltstore.BoltStore, error) {
	return boltstore.New(boltstore.Options{Path: filepath.Join(v.GetString("data-dir"), "journal.bolt")})
}

func Inspect() *cobra.Command {
	v := viper.New()
	c := &cobra.Command{
		Use:   "inspect",
		Short: "Replay a journal offline and print the recovered state",
	}
	c.PersistentFlags().String("data-dir", "/tmp/cluster-sharding", "Journal directory")
	v.BindPFlag("data-dir", c.PersistentFlags().Lookup("data-dir"))

	coordinatorCmd := &cobra.Command{
		Use:  "coordinator <type-name>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBolt(v)
			if err != nil {
				return err
			}
			defer store.Close()
			return printCoordinator(os.Stdout, store, args[0])
		},
	}
	journalsCmd := &cobra.Command{
		Use:     "journals",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBolt(v)
			if err != nil {
				return err
			}
			defer store.Close()
			ids, err := store.PersistenceIDs()
			if err != nil {
				return err
			}
			sort.Strings(ids)
			return format.ParseTemplate(journalsTemplate).Execute(os.Stdout, ids)
		},
	}
	c.AddCommand(coordinatorCmd, journalsCmd)
	return c
}
