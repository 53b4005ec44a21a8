package device

import (
	"reflect"
	"testing"
)

func TestSplitRosVlanIDs(t *testing.T) {
	got, err := splitRosVlanIDs("100,200,300")
	if err != nil {
		t.Fatalf("splitRosVlanIDs: %v", err)
	}
	if !reflect.DeepEqual(got, []int{100, 200, 300}) {
		t.Errorf("splitRosVlanIDs = %v", got)
	}

	if _, err := splitRosVlanIDs("100,abc"); err == nil {
		t.Error("splitRosVlanIDs with bad id expected error")
	}

	got, err = splitRosVlanIDs("")
	if err != nil || got != nil {
		t.Errorf("splitRosVlanIDs(\"\") = %v, %v", got, err)
	}
}

func TestJoinRosVlanIDs(t *testing.T) {
	if got := joinRosVlanIDs([]int{100, 200}); got != "100,200" {
		t.Errorf("joinRosVlanIDs = %q", got)
	}
}

func TestSplitRosList(t *testing.T) {
	got := splitRosList("ether1, ether2,,ether3")
	if !reflect.DeepEqual(got, []string{"ether1", "ether2", "ether3"}) {
		t.Errorf("splitRosList = %v", got)
	}
	if splitRosList("") != nil {
		t.Error("splitRosList(\"\") expected nil")
	}
}
