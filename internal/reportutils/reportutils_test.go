package reportutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type UnitTestSuite struct {
	suite.Suite
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (s *UnitTestSuite) TestDurationToHMS() {
	secTests := []struct {
		secs uint
		hms  string
	}{
		{1, "1s"},
		{59, "59s"},
		{60, "1m 0s"},
		{3599, "59m 59s"},
		{86400, "24h 0m 0s"},
	}

	for _, tt := range secTests {
		hms := DurationToHMS(time.Duration(tt.secs) * time.Second)
		s.Assert().Equalf(tt.hms, hms, "%d secs -> “%s”", tt.secs, tt.hms)
	}

	s.Assert().Equal("1.23s", DurationToHMS(1234*time.Millisecond))
}

func (s *UnitTestSuite) TestFmtPercent() {
	s.Assert().Equal("50", FmtPercent(1, 2))
	s.Assert().Equal("100", FmtPercent(4, 4))
	s.Assert().Equal("99.99", FmtPercent(999_999, 1_000_000))
	s.Assert().Equal("0", FmtPercent(3, 0))
}

func (s *UnitTestSuite) TestFmtCount() {
	s.Assert().Equal("10,000", FmtCount(10_000))
	s.Assert().Equal("7", FmtCount(uint8(7)))
}

func (s *UnitTestSuite) TestTruncate() {
	s.Assert().Equal("short", Truncate("short", 10))
	s.Assert().Equal("abcd…", Truncate("abcdefgh", 5))
}
