package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sqlxray/sqlxray/sdk/client"
)

// connFlags carries the target database flags shared by the commands.
type connFlags struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool
}

func (f *connFlags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Host, "host", "localhost", "database host")
	cmd.Flags().IntVar(&f.Port, "port", 3306, "database port")
	cmd.Flags().StringVar(&f.User, "user", "", "database user")
	cmd.Flags().StringVar(&f.Password, "password", "", "database password")
	cmd.Flags().StringVar(&f.Database, "database", "", "database to inspect")
	cmd.Flags().BoolVar(&f.TLS, "tls", false, "use TLS (skip-verify)")
	cobra.CheckErr(cmd.MarkFlagRequired("user"))
	cobra.CheckErr(cmd.MarkFlagRequired("database"))
}

func (f *connFlags) Connection() client.Connection {
	return client.Connection{
		Host:     f.Host,
		Port:     f.Port,
		User:     f.User,
		Password: f.Password,
		Database: f.Database,
		TLS:      f.TLS,
	}
}

func apiClient(cmd *cobra.Command) client.Client {
	base, _ := cmd.Flags().GetString("api-url")
	return client.NewHTTP(base)
}

func wantJSON(cmd *cobra.Command) bool {
	out, _ := cmd.Flags().GetString("output")
	return out == "json"
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
