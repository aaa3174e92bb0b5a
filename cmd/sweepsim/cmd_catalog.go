package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nvandessel/sweepsim/internal/catalog"
	"github.com/nvandessel/sweepsim/internal/models"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the encounters and groups in the catalog",
		Long: `Print the catalog named by catalog.path in the config file.

With --agent, task-set membership and the FIGHTABLE column are resolved
for that agent; otherwise the built-in novice is used.

Examples:
  sweepsim catalog
  sweepsim catalog --agent agent.yaml --json`,
		RunE: runCatalog,
	}
	cmd.Flags().String("agent", "", "Agent YAML file used to resolve access and task sets")
	return cmd
}

// catalogListing is the JSON form of the catalog command.
type catalogListing struct {
	Encounters []catalog.Encounter  `json:"encounters"`
	Zones      []catalog.Zone       `json:"zones"`
	Instances  []catalog.Instance   `json:"instances"`
	TaskSets   []taskSetListing     `json:"task_sets"`
	Fightable  map[string]bool      `json:"fightable"`
	Agent      models.AgentSnapshot `json:"agent"`
}

type taskSetListing struct {
	catalog.TaskSet
	Members []models.EncounterID `json:"members"`
}

func runCatalog(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	agentPath, _ := cmd.Flags().GetString("agent")

	agent, err := loadAgent(agentPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	listing := catalogListing{
		Encounters: cat.Encounters,
		Zones:      cat.Zones,
		Instances:  cat.Instances,
		TaskSets:   make([]taskSetListing, 0, len(cat.TaskSets)),
		Fightable:  make(map[string]bool, len(cat.Encounters)),
		Agent:      agent,
	}
	for _, ts := range cat.TaskSets {
		members, _ := cat.TaskSetMembers(ts.ID, agent)
		listing.TaskSets = append(listing.TaskSets, taskSetListing{TaskSet: ts, Members: members})
	}
	for _, e := range cat.Encounters {
		listing.Fightable[e.ID] = cat.CanFight(models.Plain(e.ID), agent)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}
	printCatalog(cmd.OutOrStdout(), listing)
	return nil
}

func printCatalog(w io.Writer, l catalogListing) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENCOUNTER\tNAME\tLEVEL\tHITPOINTS\tMAX HIT\tREQUIRES\tFIGHTABLE")
	for _, e := range l.Encounters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%g\t%s\t%v\n",
			e.ID, e.Name, e.Level, e.Hitpoints, e.MaxHit, orDash(e.Requires), l.Fightable[e.ID])
	}
	tw.Flush()

	if len(l.Zones) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ZONE\tNAME\tREQUIRES\tENCOUNTERS")
		for _, z := range l.Zones {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", z.ID, z.Name, orDash(z.Requires), strings.Join(z.Encounters, ", "))
		}
		tw.Flush()
	}

	if len(l.Instances) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tNAME\tREQUIRES\tMEMBERS")
		for _, in := range l.Instances {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", in.ID, in.Name, orDash(in.Requires), strings.Join(in.Members, ", "))
		}
		tw.Flush()
	}

	if len(l.TaskSets) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TASK SET\tNAME\tLEVELS\tMEMBERS")
		for _, ts := range l.TaskSets {
			ids := make([]string, len(ts.Members))
			for i, id := range ts.Members {
				ids[i] = id.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%s\n", ts.ID, ts.Name, ts.MinLevel, ts.MaxLevel, orDash(strings.Join(ids, ", ")))
		}
		tw.Flush()
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
