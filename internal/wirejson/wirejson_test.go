package wirejson

import "testing"

type sample struct {
	Name string `json:"name"`
	Num  int    `json:"num"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sample{Name: "a", Num: 7}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestStrictUnmarshalRejectsUnknownFields(t *testing.T) {
	var out sample
	err := StrictUnmarshal([]byte(`{"name":"a","num":1,"extra":true}`), &out)
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestStrictUnmarshalRejectsCaseVariantDuplicateKeys(t *testing.T) {
	var out sample
	err := StrictUnmarshal([]byte(`{"name":"a","Name":"b","num":1}`), &out)
	if err == nil {
		t.Fatal("expected an error for case-variant duplicate keys")
	}
}

func TestStrictUnmarshalAcceptsWellFormedPayload(t *testing.T) {
	var out sample
	if err := StrictUnmarshal([]byte(`{"name":"a","num":1}`), &out); err != nil {
		t.Fatalf("StrictUnmarshal: %v", err)
	}
	if out.Name != "a" || out.Num != 1 {
		t.Errorf("got %+v, want {a 1}", out)
	}
}
