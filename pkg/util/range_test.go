package util

import (
	"reflect"
	"testing"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"1-5", []int{1, 2, 3, 4, 5}, false},
		{"1,3,5", []int{1, 3, 5}, false},
		{"1-3,5,7-9", []int{1, 2, 3, 5, 7, 8, 9}, false},
		{"5,5,5", []int{5}, false},
		{"", nil, false},
		{"5-1", nil, true},
		{"abc", nil, true},
	}
	for _, tt := range tests {
		got, err := ExpandRange(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ExpandRange(%q) expected error", tt.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExpandRange(%q): %v", tt.spec, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExpandRange(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestExpandCLIVLANRange(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"10 20 to 23 40", []int{10, 20, 21, 22, 23, 40}, false},
		{"100", []int{100}, false},
		{"1 to 3", []int{1, 2, 3}, false},
		{"to 5", nil, true},
		{"1 to", nil, true},
	}
	for _, tt := range tests {
		got, err := ExpandCLIVLANRange(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ExpandCLIVLANRange(%q) expected error", tt.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExpandCLIVLANRange(%q): %v", tt.spec, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExpandCLIVLANRange(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		values []int
		want   string
	}{
		{[]int{1, 2, 3, 5, 7, 8, 9}, "1-3,5,7-9"},
		{[]int{5}, "5"},
		{nil, ""},
		{[]int{3, 1, 2}, "1-3"},
	}
	for _, tt := range tests {
		if got := CompactRange(tt.values); got != tt.want {
			t.Errorf("CompactRange(%v) = %q, want %q", tt.values, got, tt.want)
		}
	}
}

func TestValidateVLANID(t *testing.T) {
	if err := ValidateVLANID(1); err != nil {
		t.Errorf("ValidateVLANID(1): %v", err)
	}
	if err := ValidateVLANID(4094); err != nil {
		t.Errorf("ValidateVLANID(4094): %v", err)
	}
	if err := ValidateVLANID(0); err == nil {
		t.Error("ValidateVLANID(0) expected error")
	}
	if err := ValidateVLANID(4095); err == nil {
		t.Error("ValidateVLANID(4095) expected error")
	}
}

func TestRemoveInt(t *testing.T) {
	got := RemoveInt([]int{1, 2, 3, 2}, 2)
	if !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("RemoveInt = %v, want [1 3]", got)
	}
}
