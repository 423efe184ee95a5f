package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rflorenc/jenkins-workbench/internal/jenkins"
	"github.com/rflorenc/jenkins-workbench/internal/operations"
	"github.com/rflorenc/jenkins-workbench/internal/xmldict"
	"github.com/spf13/cobra"
)

// lineLogger prints operation progress to w.
func lineLogger(w io.Writer) func(string) {
	return func(line string) {
		fmt.Fprintln(w, line)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) mastersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "masters [folder]",
		Short: "List the managed masters of the operations center",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			path := conn.OperationsCenterURL()
			if len(args) == 1 {
				path = jenkins.JobURL(path, args[0])
			}
			masters, err := client.ListManagedMasters(path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tURL")
			for _, m := range masters {
				fmt.Fprintf(tw, "%s\t%s\n", m.Name, m.URL)
			}
			return tw.Flush()
		},
	}
}

func (a *app) endpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "endpoint <master>",
		Short: "Resolve the URL a managed master serves on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			endpoint, err := client.GetManagedMasterEndpoint(conn.MasterURL(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), endpoint)
			return nil
		},
	}
}

func (a *app) jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <master> [folder]",
		Short: "List the jobs of a managed master",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			folder := ""
			if len(args) == 2 {
				folder = args[1]
			}
			jobs, err := client.ListJobs(conn.MasterURL(args[0]), folder)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOLOR\tCLASS")
			for _, j := range jobs {
				color, _ := j["color"].(string)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Name(), color, j.Class())
			}
			return tw.Flush()
		},
	}
}

func (a *app) buildCmd() *cobra.Command {
	var params []string
	var wait, showLog bool
	cmd := &cobra.Command{
		Use:   "build <master> <job>",
		Short: "Trigger a build, optionally waiting for it to finish",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			masterURL := conn.MasterURL(args[0])
			if !wait {
				id, err := client.BuildJob(masterURL, args[1], parameters)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued as item %d\n", id)
				return nil
			}
			_, err = operations.BuildAndWait(cmd.Context(), client, operations.BuildRequest{
				MasterURL:  masterURL,
				JobPath:    args[1],
				Parameters: parameters,
				Interval:   a.cfg.Poll.Interval,
				ShowLog:    showLog,
			}, lineLogger(cmd.OutOrStdout()))
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Build parameter KEY=VALUE (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the build to finish")
	cmd.Flags().BoolVar(&showLog, "log", false, "Print the console log once the build finished (with --wait)")
	return cmd
}

func parseParams(params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

func (a *app) queueCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "queue <master> <item>",
		Short: "Show a queue item, optionally waiting until it starts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid queue item %q", args[1])
			}
			masterURL := conn.MasterURL(args[0])
			var item *jenkins.QueueItem
			if wait {
				item, err = operations.WaitForQueueItem(cmd.Context(), client, masterURL, id, a.cfg.Poll.Interval, lineLogger(cmd.ErrOrStderr()))
			} else {
				item, err = client.GetQueueItem(masterURL, id)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the item leaves the queue")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace job configuration",
	}

	var format string
	get := &cobra.Command{
		Use:   "get <master> <job>",
		Short: "Print a job's config.xml, as XML or as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			data, err := client.GetJobConfigXML(conn.MasterURL(args[0]), args[1])
			if err != nil {
				return err
			}
			switch format {
			case "xml":
				_, err = cmd.OutOrStdout().Write(data)
				return err
			case "json":
				config, err := xmldict.Parse(data)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), config)
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	get.Flags().StringVarP(&format, "format", "o", "xml", "Output format: xml or json")

	put := &cobra.Command{
		Use:   "put <master> <job> <file>",
		Short: "Replace a job's config.xml from an XML or JSON file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			config, err := readConfigFile(args[2])
			if err != nil {
				return err
			}
			resp, err := client.UpdateJobConfig(conn.MasterURL(args[0]), args[1], config)
			if err != nil {
				return err
			}
			if err := resp.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[1])
			return nil
		},
	}

	cmd.AddCommand(get, put)
	return cmd
}

func readConfigFile(path string) (*xmldict.Dict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		config := xmldict.New()
		if err := config.UnmarshalJSON(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return config, nil
	}
	config, err := xmldict.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return config, nil
}

func (a *app) copyJobCmd() *cobra.Command {
	var req operations.CopyRequest
	cmd := &cobra.Command{
		Use:   "copy-job <source-master> <dest-master> <job>...",
		Short: "Copy jobs from one managed master to another",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			req.SourceMaster = conn.MasterURL(args[0])
			req.DestMaster = conn.MasterURL(args[1])
			req.Jobs = args[2:]
			res, err := operations.CopyJobs(cmd.Context(), client, req, lineLogger(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d jobs failed", len(res.Failed), len(req.Jobs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DestFolder, "folder", "", "Folder on the destination master")
	cmd.Flags().BoolVar(&req.Overwrite, "overwrite", false, "Replace jobs that already exist")
	cmd.Flags().BoolVar(&req.Disable, "disable", false, "Disable the copies")
	return cmd
}

func (a *app) inventoryCmd() *cobra.Command {
	var countJobs bool
	cmd := &cobra.Command{
		Use:   "inventory [folder]",
		Short: "Report every managed master and whether it is ready",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := a.client()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = jenkins.JobURL(conn.OperationsCenterURL(), args[0])
			}
			inv, err := operations.TakeInventory(cmd.Context(), client, path, countJobs, lineLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		},
	}
	cmd.Flags().BoolVar(&countJobs, "jobs", false, "Count the jobs of each ready master")
	return cmd
}
