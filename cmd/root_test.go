package cmd

import (
	"io"
	"os"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/helpertest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("root command", func() {
	When("help is called", func() {
		It("should execute without error", func() {
			c := NewRootCommand()
			c.SetOut(io.Discard)
			c.SetArgs([]string{"help"})

			Expect(c.Execute()).Should(Succeed())
		})
	})

	When("Config provided", func() {
		var cfgFile *helpertest.TmpFile

		BeforeEach(func() {
			configPath = defaultConfigPath
			cfg = nil

			tmpDir := helpertest.NewTmpFolder("RootCommand")
			cfgFile = tmpDir.CreateStringFile("config",
				"database:",
				"  target: ':memory:'",
				"nodes:",
				"  - id: dns1",
				"    name: Primary",
				"    baseUrl: http://dns1:5380",
				"log:",
				"  level: debug")

			DeferCleanup(func() { configPath = defaultConfigPath })
		})

		It("should read the path from the environment", func() {
			os.Setenv(configFileEnvVar, cfgFile.Path)
			DeferCleanup(func() { os.Unsetenv(configFileEnvVar) })

			Expect(initConfig()).Should(Succeed())
			Expect(configPath).Should(Equal(cfgFile.Path))
			Expect(cfg.Nodes).Should(HaveLen(1))
			Expect(cfg.Nodes[0].DisplayName()).Should(Equal("Primary"))
			Expect(cfg.Database.Type).Should(Equal(config.DatabaseTypeSqlite))
		})

		It("should prefer the flag over the environment", func() {
			os.Setenv(configFileEnvVar, "/notexisting/path.yaml")
			DeferCleanup(func() { os.Unsetenv(configFileEnvVar) })

			configPath = cfgFile.Path

			Expect(initConfig()).Should(Succeed())
		})

		It("should fail for a missing file", func() {
			configPath = "/notexisting/path.yaml"

			Expect(initConfig()).ShouldNot(Succeed())
		})
	})
})
