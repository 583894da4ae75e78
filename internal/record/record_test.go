package record

import "testing"

func TestMakeRecordParseRecordRoundTrip(t *testing.T) {
	values := []Value{
		IntValue(42),
		TextValue("hello"),
		BlobValue([]byte{1, 2, 3}),
		NullValue(),
		RealValue(3.5),
		IntValue(0),
		IntValue(1),
	}
	buf, err := MakeRecord(values)
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	rec, err := ParseRecord(buf)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if len(rec.Values) != len(values) {
		t.Fatalf("got %d values, want %d", len(rec.Values), len(values))
	}
	for i, v := range values {
		if CompareValues(v, rec.Values[i]) != 0 {
			t.Errorf("column %d = %+v, want %+v", i, rec.Values[i], v)
		}
	}
}

func TestMakeRecordRejectsEmpty(t *testing.T) {
	if _, err := MakeRecord(nil); err == nil {
		t.Fatal("MakeRecord(nil) should fail")
	}
}

func TestLocateColumnMatchesParseRecord(t *testing.T) {
	values := []Value{IntValue(1), TextValue("abc"), BlobValue([]byte("xyz"))}
	buf, err := MakeRecord(values)
	if err != nil {
		t.Fatalf("MakeRecord: %v", err)
	}
	for i := range values {
		got, err := LocateColumn(buf, i)
		if err != nil {
			t.Fatalf("LocateColumn(%d): %v", i, err)
		}
		if CompareValues(got, values[i]) != 0 {
			t.Errorf("LocateColumn(%d) = %+v, want %+v", i, got, values[i])
		}
	}
}

func TestSerialTypeWideningForLargeIntegers(t *testing.T) {
	tests := []struct {
		v  int64
		st SerialType
	}{
		{0, SerialTypeZero},
		{1, SerialTypeOne},
		{127, SerialTypeInt8},
		{128, SerialTypeInt16},
		{32768, SerialTypeInt24},
		{1 << 23, SerialTypeInt32},
		{1 << 31, SerialTypeInt48},
		{1 << 47, SerialTypeInt64},
		{-1, SerialTypeInt8},
	}
	for _, tt := range tests {
		if got := serialTypeFor(IntValue(tt.v)); got != tt.st {
			t.Errorf("serialTypeFor(%d) = %d, want %d", tt.v, got, tt.st)
		}
	}
}

func TestCompareValuesMixedTypeOrdering(t *testing.T) {
	ordered := []Value{
		NullValue(),
		IntValue(5),
		TextValue("a"),
		BlobValue([]byte("a")),
	}
	for i := 0; i < len(ordered)-1; i++ {
		if CompareValues(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("expected ordered[%d] < ordered[%d]", i, i+1)
		}
	}
}

func TestCompareValuesNumericCrossType(t *testing.T) {
	if CompareValues(IntValue(3), RealValue(3.0)) != 0 {
		t.Error("integer 3 and real 3.0 should compare equal")
	}
	if CompareValues(IntValue(2), RealValue(3.0)) >= 0 {
		t.Error("integer 2 should compare less than real 3.0")
	}
}

func TestCompareRecordsPKPrefixOnly(t *testing.T) {
	a, err := makeRec(IntValue(1), TextValue("zzz"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := makeRec(IntValue(1), TextValue("aaa"))
	if err != nil {
		t.Fatal(err)
	}
	cmp, err := CompareRecords(a, b, 1)
	if err != nil {
		t.Fatalf("CompareRecords: %v", err)
	}
	if cmp != 0 {
		t.Errorf("records with equal PK prefix should compare equal, got %d", cmp)
	}
}

func TestCompareRecordsShortRecordIsMalformed(t *testing.T) {
	a, err := makeRec(IntValue(1))
	if err != nil {
		t.Fatal(err)
	}
	b, err := makeRec(IntValue(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := CompareRecords(a, b, 2); err == nil {
		t.Fatal("CompareRecords with pkCount beyond available columns should fail")
	}
}

func makeRec(values ...Value) (*Record, error) {
	buf, err := MakeRecord(values)
	if err != nil {
		return nil, err
	}
	return ParseRecord(buf)
}
