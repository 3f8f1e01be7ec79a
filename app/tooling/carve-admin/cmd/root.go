// Package cmd contains the carve admin commands.
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/carvexyz/carve/business/sys/database"
	"github.com/carvexyz/carve/business/web/mid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	dbDriver string
	dbPath   string
	dbHost   string
	dbUser   string
	dbPass   string
	dbName   string

	apiURL   string
	adminKey string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "sqlite", "Database driver, sqlite or postgres.")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "zcarve/carve.db", "Path to the sqlite database.")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "localhost", "Postgres host.")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "postgres", "Postgres user.")
	rootCmd.PersistentFlags().StringVar(&dbPass, "db-password", "postgres", "Postgres password.")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "postgres", "Postgres database name.")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "url", "u", "http://localhost:8080", "Url of the carve api.")
	rootCmd.PersistentFlags().StringVarP(&adminKey, "admin-key", "k", os.Getenv("CARVE_ADMIN_KEY"), "Admin key for the carve api.")
}

var rootCmd = &cobra.Command{
	Use:   "carve-admin",
	Short: "Administrative tasks for the carve service",
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*gorm.DB, error) {
	log, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return nil, fmt.Errorf("constructing logger: %w", err)
	}

	return database.Open(database.Config{
		Log:          log.Sugar(),
		Driver:       dbDriver,
		Path:         dbPath,
		Host:         dbHost,
		User:         dbUser,
		Password:     dbPass,
		Name:         dbName,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		DisableTLS:   true,
	})
}

// callAPI sends the request to the carve api and prints the response.
func callAPI(method string, path string, body any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, apiURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		req.Header.Set(mid.AdminKeyHeader, adminKey)
	}

	client := http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Println(resp.Status)
	if len(data) > 0 {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("api returned %s", resp.Status)
	}

	return nil
}
