package timestamp

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/John-Robertt/lsimport/internal/domain"
)

func sample() domain.SceneMetadata {
	return domain.SceneMetadata{
		SceneID:         "LC81840332014146LGN00",
		AcquisitionDate: time.Date(2014, 5, 26, 0, 0, 0, 0, time.UTC),
		AcquisitionTime: domain.ClockTime{Hour: 9, Minute: 10, Second: 26, Fraction: "7368720"},
	}
}

func TestDerive_ListingLine(t *testing.T) {
	ts := Derive(sample())
	got := FormatListing("LC81840332014146LGN00", "", ts)
	want := "LC81840332014146LGN00|2014-05-26 09:10:26.7368720 +0000"
	if got != want {
		t.Fatalf("期望 %q，实际 %q", want, got)
	}

	got = FormatListing("LC81840332014146LGN00", "_B4", ts)
	if !strings.HasPrefix(got, "LC81840332014146LGN00_B4|") {
		t.Fatalf("后缀未拼接：%q", got)
	}
}

func TestGRASSDate(t *testing.T) {
	ts := Derive(sample())
	if got := GRASSDate(ts); got != "26 may 2014 09:10:26.7368720" {
		t.Fatalf("GRASS 日期不正确：%q", got)
	}

	ts.Date = time.Date(2005, 1, 6, 0, 0, 0, 0, time.UTC)
	ts.Clock = domain.ClockTime{Hour: 6, Minute: 4, Second: 3}
	if got := GRASSDate(ts); got != "06 jan 2005 06:04:03" {
		t.Fatalf("GRASS 日期不正确：%q", got)
	}
}

func TestParse_Manual(t *testing.T) {
	ts, err := Parse("2014-05-26 09:10:26.7368720 +0200")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ts.TZOffsetMinutes != 120 || ts.Clock.Fraction != "7368720" {
		t.Fatalf("解析结果不正确：%+v", ts)
	}

	ts, err = Parse("2014-05-26T09:10:26")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ts.String() != "2014-05-26 09:10:26 +0000" {
		t.Fatalf("省略时区应为 +0000：%q", ts.String())
	}

	for _, bad := range []string{"", "26 may 2014", "2014-13-01 00:00:00", "2014-05-26 25:00:00", "2014-05-26 09:10:26 +2"} {
		_, err := Parse(bad)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%q 期望 ParseError，实际 %v", bad, err)
		}
	}
}

func TestProperty_StringParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(ts.String()) 还原同一时间戳", prop.ForAll(
		func(day, hour, minute, second, frac, tz int) bool {
			ts := domain.Timestamp{
				Date:            time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
				Clock:           domain.ClockTime{Hour: hour, Minute: minute, Second: second},
				TZOffsetMinutes: tz,
			}
			if frac > 0 {
				ts.Clock.Fraction = strings.Repeat("0", frac%3) + strconv.Itoa(frac)
			}
			back, err := Parse(ts.String())
			if err != nil {
				return false
			}
			return back.String() == ts.String() && back.Date.Equal(ts.Date) && back.Clock == ts.Clock
		},
		gen.IntRange(0, 20000),
		gen.IntRange(0, 23),
		gen.IntRange(0, 59),
		gen.IntRange(0, 59),
		gen.IntRange(0, 9999999),
		gen.IntRange(-12*60, 14*60),
	))

	properties.Property("Derive 是确定性的", prop.ForAll(
		func(hour, minute int) bool {
			m := sample()
			m.AcquisitionTime.Hour, m.AcquisitionTime.Minute = hour, minute
			return Derive(m).String() == Derive(m).String() && GRASSDate(Derive(m)) == GRASSDate(Derive(m))
		},
		gen.IntRange(0, 23),
		gen.IntRange(0, 59),
	))

	properties.TestingRun(t)
}
