package main

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecore/internal/native"
	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/pkg/bleuuid"
	"github.com/srg/blecore/pkg/central"
)

var (
	batteryService   = bleuuid.MustCanonicalize("180F")
	batteryLevel     = bleuuid.MustCanonicalize("2A19")
	heartRateService = bleuuid.MustCanonicalize("180D")
)

// formatted renders err the way main prints it.
func formatted(err error) string {
	return central.FormatUserError(err)
}

// CommandTestSuite runs commands against the suite's FakeRadio.
// All cmd/blecentral test suites should embed this.
type CommandTestSuite struct {
	testutils.FakeRadioSuite

	originalRadio func(*logrus.Logger) (native.Radio, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()

	s.originalRadio = newRadio
	radio := s.Radio
	newRadio = func(*logrus.Logger) (native.Radio, error) { return radio, nil }

	resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio = s.originalRadio
	s.FakeRadioSuite.TearDownTest()
}

// resetFlags puts every command flag back to its default so tests don't leak
// into each other through the package level command tree.
func resetFlags() {
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("config", "")

	scanDuration = 200 * time.Millisecond
	scanFormat = ""
	scanServices = nil
	scanMode = "balanced"
	scanAllowDuplicates = false
	scanFirstMatch = false

	inspectFormat = ""
	inspectRead = false
	inspectMTU = 0

	readServiceUUID = ""
	readDescUUID = ""
	readHex = false

	writeServiceUUID = ""
	writeDescUUID = ""
	writeHex = false
	writeNoResponse = false

	monitorServiceUUID = ""
	monitorIndicate = false
	monitorDuration = 0
	monitorCount = 0
	monitorHex = false
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return executeCommand(rootCmd, args...)
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
