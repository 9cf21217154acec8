package sceneid

import (
	"errors"
	"testing"
	"time"
)

func TestParse_Legacy(t *testing.T) {
	id, err := Parse("LC81840332014146LGN00")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if id.Sensor != "OLI_TIRS" || id.Satellite != 8 || id.Path != 184 || id.Row != 33 {
		t.Fatalf("解析结果不正确：%+v", id)
	}
	want := time.Date(2014, 5, 26, 0, 0, 0, 0, time.UTC)
	if !id.Acquired.Equal(want) {
		t.Fatalf("年积日换算错误：期望 %v，实际 %v", want, id.Acquired)
	}
	if id.Mission() != "LC08" {
		t.Fatalf("期望 LC08，实际 %q", id.Mission())
	}
}

func TestParse_CollectionWithArchiveSuffix(t *testing.T) {
	id, err := Parse("LE07_L1TP_161043_20050609_20161125_01_T1.tar.gz")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !id.Collection || id.Sensor != "ETM" || id.Raw != "LE07_L1TP_161043_20050609_20161125_01_T1" {
		t.Fatalf("解析结果不正确：%+v", id)
	}
	if id.Acquired.Format("2006-01-02") != "2005-06-09" {
		t.Fatalf("采集日期不正确：%v", id.Acquired)
	}
}

func TestParse_TIRSOnlyVersusTM(t *testing.T) {
	tm, err := Parse("LT50440342011001PAC01")
	if err != nil || tm.Sensor != "TM" {
		t.Fatalf("LT5 应为 TM：%+v %v", tm, err)
	}
	tirs, err := Parse("LT81840332014146LGN00")
	if err != nil || tirs.Sensor != "TIRS" {
		t.Fatalf("LT8 应为 TIRS：%+v %v", tirs, err)
	}
}

func TestParse_Unrecognized(t *testing.T) {
	for _, name := range []string{"", "scene-01", "LC81840332014999LGN00"} {
		_, err := Parse(name)
		var ue *UnrecognizedError
		if !errors.As(err, &ue) {
			t.Fatalf("%q 期望 UnrecognizedError，实际 %v", name, err)
		}
	}
}
