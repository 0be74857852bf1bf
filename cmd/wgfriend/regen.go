package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graemester/wgfriend/internal/model"
	"github.com/graemester/wgfriend/internal/render"
	"github.com/graemester/wgfriend/internal/store"
	"github.com/graemester/wgfriend/internal/wgconf"
)

func findSubnetRouter(srs []*model.SubnetRouter, hostname string) *model.SubnetRouter {
	for _, sr := range srs {
		if sr.Hostname == hostname {
			return sr
		}
	}
	return nil
}

func findExitNode(exits []*model.ExitNode, hostname string) *model.ExitNode {
	for _, e := range exits {
		if e.Hostname == hostname {
			return e
		}
	}
	return nil
}

func toValues(srs []*model.SubnetRouter) []model.SubnetRouter {
	out := make([]model.SubnetRouter, len(srs))
	for i, sr := range srs {
		out[i] = *sr
	}
	return out
}

var regenCmd = &cobra.Command{
	Use:   "regen <cs-guid> <kind> <hostname> <out-path>",
	Short: "Render an entity's current .conf from the store and write it to disk",
	Long: `regen composes the store's current data into a WireGuard .conf
for one entity: the coordination server itself, a subnet router, an
exit node, or a remote. The file is written with 0600 permissions per
§4.6. For a remote, pass --qr to also write a PNG QR code of the same
config next to it.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKindArg(args[1])
		if err != nil {
			return err
		}
		app, err := newAppContext(appLogger)
		if err != nil {
			return err
		}
		defer app.Close()

		cs, err := app.store.FetchCoordinationServer(args[0])
		if err != nil {
			return err
		}

		spec, err := renderFor(app.store, cs, kind, args[2], cmd)
		if err != nil {
			return err
		}

		if err := wgconf.WriteFile(args[3], spec); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", args[3])

		if qr, _ := cmd.Flags().GetBool("qr"); qr {
			png, err := wgconf.RenderQR(wgconf.Render(spec))
			if err != nil {
				return err
			}
			qrPath := args[3] + ".png"
			if err := os.WriteFile(qrPath, png, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", qrPath)
		}
		return nil
	},
}

func renderFor(st *store.Store, cs *model.CoordinationServer, kind model.Kind, hostname string, cmd *cobra.Command) (wgconf.ConfigSpec, error) {
	switch kind {
	case model.KindCoordinationServer:
		return render.CoordinationServer(st, cs.PermanentGUID)
	case model.KindSubnetRouter:
		srs, err := st.ListSubnetRouters(cs.PermanentGUID)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		sr := findSubnetRouter(srs, hostname)
		if sr == nil {
			return wgconf.ConfigSpec{}, fmt.Errorf("no subnet router named %q", hostname)
		}
		return render.SubnetRouter(st, cs, sr)
	case model.KindExitNode:
		exits, err := st.ListExitNodes(cs.PermanentGUID)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		e := findExitNode(exits, hostname)
		if e == nil {
			return wgconf.ConfigSpec{}, fmt.Errorf("no exit node named %q", hostname)
		}
		return render.ExitNode(st, cs, e)
	case model.KindRemote:
		r, err := st.FetchRemoteByHostname(cs.PermanentGUID, hostname)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		if r == nil {
			return wgconf.ConfigSpec{}, fmt.Errorf("no remote named %q", hostname)
		}
		srs, err := st.ListSubnetRouters(cs.PermanentGUID)
		if err != nil {
			return wgconf.ConfigSpec{}, err
		}
		dns, _ := cmd.Flags().GetStringSlice("dns")
		return render.Remote(st, cs, toValues(srs), r, dns)
	default:
		return wgconf.ConfigSpec{}, fmt.Errorf("unsupported kind %q", kind)
	}
}

func init() {
	regenCmd.Flags().Bool("qr", false, "also write a PNG QR code of the rendered config, remotes only")
	regenCmd.Flags().StringSlice("dns", nil, "DNS override for a remote's config")
	rootCmd.AddCommand(regenCmd)
}
