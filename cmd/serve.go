package cmd

import (
	"dbvault/internal/httpapi"

	"github.com/spf13/cobra"
)

var serveAddress string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the tables and catalog objects of the target database",
	Long: `Enumerate the live catalog of the target database: tables with their row counts,
views, functions, triggers, indexes, policies and enum types. Object classes the server
version does not support are reported as warnings.

Examples:
  dbvault discover
  dbvault discover --format yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		spinner := s.printer.StartSpinner("Reading catalog")
		resp := s.vault.Discover(cmd.Context())
		spinner.Stop("")
		return emit(s.printer, resp, resp.Response, func() { renderDiscover(s.printer, resp) })
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve backups and restores over HTTP",
	Long: `Run the HTTP service until interrupted. The routes mirror the commands:

  POST /backups                    create a backup
  GET  /backups                    list backups
  GET  /backups/{id}               show a backup
  GET  /backups/{id}/artifact      artifact as JSON
  GET  /backups/{id}/artifact.sql  artifact as SQL
  POST /backups/{id}/restore       restore a backup
  GET  /restores                   list restores
  GET  /restores/{id}              show a restore
  POST /restores/{id}/rollback     roll a restore back
  GET  /discover                   catalog summary
  GET  /healthz                    database and storage health

The service has no authentication; bind it to a private address.

Examples:
  dbvault serve
  dbvault serve --addr 0.0.0.0:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := httpapi.ServerOptions{
			Address:         s.cfg.Server.Address,
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}
		if serveAddress != "" {
			opts.Address = serveAddress
		}

		server := httpapi.NewServer(httpapi.New(s.vault, s.logger), opts, s.logger)
		s.printer.Info("Serving on http://%s", opts.Address)
		if err := server.Run(cmd.Context()); err != nil {
			return err
		}
		s.printer.Success("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "addr", "", "listen address (default is server.address)")
	rootCmd.AddCommand(discoverCmd, serveCmd)
}
