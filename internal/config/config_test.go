package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when no file is present", func() {
			It("returns the documented defaults", func() {
				cfg, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Scheduler.ReconcileIntervalSec).To(Equal(60))
				Expect(cfg.Scheduler.MaxConcurrentReconciles).To(Equal(5))
				Expect(cfg.Scheduler.DriftIntervalSec).To(Equal(300))
				Expect(cfg.Scheduler.BackoffBaseSec).To(Equal(60))
				Expect(cfg.Scheduler.BackoffCapSec).To(Equal(61440))
				Expect(cfg.Scheduler.ShutdownGraceSec).To(Equal(30))
			})
		})

		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  addr: ":9090"

database:
  host: "db.internal"
  port: 5433
  name: "cp"
  user: "cp_user"
  password: "secret"

scheduler:
  reconcile_interval_sec: 30
  max_concurrent_reconciles: 10
  drift_interval_sec: 120
  backoff_base_sec: 15
  backoff_cap_sec: 900
  shutdown_grace_sec: 10
`
				Expect(os.WriteFile(configFile, []byte(validConfig), 0o600)).To(Succeed())
			})

			It("loads every section", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Addr).To(Equal(":9090"))
				Expect(cfg.Database.Host).To(Equal("db.internal"))
				Expect(cfg.Database.Port).To(Equal(5433))
				Expect(cfg.Scheduler.MaxConcurrentReconciles).To(Equal(10))
			})
		})

		Context("environment overrides", func() {
			It("env vars win over file and defaults", func() {
				Expect(os.WriteFile(configFile, []byte("database:\n  host: file-host\n"), 0o600)).To(Succeed())
				os.Setenv("DB_HOST", "env-host")
				defer os.Unsetenv("DB_HOST")

				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Database.Host).To(Equal("env-host"))
			})
		})

		Context("invalid content", func() {
			It("rejects a non-positive max_concurrent_reconciles", func() {
				Expect(os.WriteFile(configFile, []byte("scheduler:\n  max_concurrent_reconciles: 0\n"), 0o600)).To(Succeed())
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})

			It("rejects a backoff cap below the base", func() {
				Expect(os.WriteFile(configFile, []byte("scheduler:\n  backoff_base_sec: 100\n  backoff_cap_sec: 10\n"), 0o600)).To(Succeed())
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("DatabaseConfig.DSN", func() {
		It("renders a libpq connection string", func() {
			d := DatabaseConfig{Host: "h", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
			Expect(d.DSN()).To(Equal("host=h port=5432 dbname=n user=u password=p sslmode=disable"))
		})
	})
})
