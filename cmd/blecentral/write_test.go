package main

import (
	"testing"

	"github.com/srg/blecore/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type WriteCommandSuite struct {
	CommandTestSuite
}

func (s *WriteCommandSuite) SetupTest() {
	s.WithPeripheral().
		WithName("Serial").
		WithService("FFE0").
		WithCharacteristic("FFE1", "read,write,write-without-response", []byte{0}).
		WithDescriptor("2901", []byte("tx"))

	s.CommandTestSuite.SetupTest()
}

func (s *WriteCommandSuite) TestParseWriteData() {
	// GOAL: Verify data parsing handles text and the usual hex spellings
	//
	// TEST SCENARIO: Parse text and hex with different separators → decoded bytes → matches expected output

	tests := []struct {
		name     string
		input    string
		hex      bool
		expected []byte
	}{
		{name: "text", input: "hi", expected: []byte("hi")},
		{name: "simple hex", input: "0102", hex: true, expected: []byte{0x01, 0x02}},
		{name: "hex with spaces", input: "01 02 03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with colons", input: "01:02:03", hex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with prefixes", input: "0x01 0xff", hex: true, expected: []byte{0x01, 0xff}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := parseWriteData(tt.input, tt.hex)
			s.Require().NoError(err)
			s.Equal(tt.expected, got)
		})
	}

	_, err := parseWriteData("0g", true)
	s.ErrorContains(err, "invalid hex data")
}

func (s *WriteCommandSuite) TestWriteCharacteristic() {
	// GOAL: Verify write sends the bytes with or without response as asked
	//
	// TEST SCENARIO: Write text with response, then hex without → peripheral sees both writes in order

	out, err := s.ExecuteCommand("write", testutils.DefaultAddress, "ffe1", "hello")
	s.Require().NoError(err, "write MUST succeed")
	s.Equal("Wrote 5 byte(s) to characteristic ffe1\n", out)

	resetFlags()
	_, err = s.ExecuteCommand("write", testutils.DefaultAddress, "ffe1", "01:ff", "--hex", "--no-response", "--service", "ffe0")
	s.Require().NoError(err, "write without response MUST succeed")

	calls := s.Peripheral(testutils.DefaultAddress).CallsOf(testutils.OpWrite)
	s.Require().Len(calls, 2)
	s.Equal([]byte("hello"), calls[0].Data)
	s.True(calls[0].Flag, "first write MUST ask for a response")
	s.Equal([]byte{0x01, 0xff}, calls[1].Data)
	s.False(calls[1].Flag, "second write MUST NOT ask for a response")
}

func (s *WriteCommandSuite) TestWriteDescriptor() {
	// GOAL: Verify --desc writes a descriptor value
	//
	// TEST SCENARIO: Write the user description → stored on the peripheral

	out, err := s.ExecuteCommand("write", testutils.DefaultAddress, "ffe1", "rx", "--desc", "2901")
	s.Require().NoError(err, "descriptor write MUST succeed")
	s.Equal("Wrote 2 byte(s) to descriptor 2901\n", out)

	calls := s.Peripheral(testutils.DefaultAddress).CallsOf(testutils.OpWriteDescriptor)
	s.Require().Len(calls, 1)
	s.Equal([]byte("rx"), calls[0].Data)
}

func (s *WriteCommandSuite) TestWriteRejectedBeforeConnecting() {
	// GOAL: Verify malformed input never opens a connection
	//
	// TEST SCENARIO: Bad hex and --no-response with --desc → errors → no native calls

	_, err := s.ExecuteCommand("write", testutils.DefaultAddress, "ffe1", "zz", "--hex")
	s.ErrorContains(err, "invalid hex data")

	resetFlags()
	_, err = s.ExecuteCommand("write", testutils.DefaultAddress, "ffe1", "x", "--desc", "2901", "--no-response")
	s.ErrorContains(err, "--no-response cannot be used with --desc")

	s.Empty(s.Peripheral(testutils.DefaultAddress).Calls(), "nothing MUST reach the peripheral")
}

func TestWriteCommandSuite(t *testing.T) {
	suite.Run(t, new(WriteCommandSuite))
}
