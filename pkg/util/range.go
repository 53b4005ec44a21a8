package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValidateVLANID checks that a VLAN id is inside the 802.1Q range.
func ValidateVLANID(id int) error {
	if id < 1 || id > 4094 {
		return fmt.Errorf("VLAN id %d outside valid range 1-4094", id)
	}
	return nil
}

// ExpandRange expands a range specification into individual values.
// Supports formats like:
//   - "1-5" -> [1, 2, 3, 4, 5]
//   - "1,3,5" -> [1, 3, 5]
//   - "1-3,5,7-9" -> [1, 2, 3, 5, 7, 8, 9]
func ExpandRange(spec string) ([]int, error) {
	if spec == "" {
		return nil, nil
	}

	var result []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start value in range %s: %v", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end value in range %s: %v", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
			}
			for i := start; i <= end; i++ {
				result = append(result, i)
			}
		} else {
			val, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value: %s", part)
			}
			result = append(result, val)
		}
	}

	sort.Ints(result)
	return dedupInts(result), nil
}

// ExpandVLANRange expands VLAN range notation and validates every id.
// "100-105,200" -> [100, 101, 102, 103, 104, 105, 200]
func ExpandVLANRange(spec string) ([]int, error) {
	vlans, err := ExpandRange(spec)
	if err != nil {
		return nil, err
	}
	for _, vlan := range vlans {
		if err := ValidateVLANID(vlan); err != nil {
			return nil, err
		}
	}
	return vlans, nil
}

// ExpandCLIVLANRange expands the "a to b" notation used by comware-style
// CLIs in trunk permit lists and vlan tables.
// "10 20 to 23 40" -> [10, 20, 21, 22, 23, 40]
func ExpandCLIVLANRange(spec string) ([]int, error) {
	var result []int
	fields := strings.Fields(spec)
	for i := 0; i < len(fields); i++ {
		if fields[i] == "to" {
			if len(result) == 0 || i+1 >= len(fields) {
				return nil, fmt.Errorf("dangling 'to' in vlan range %q", spec)
			}
			end, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid vlan range end %q: %v", fields[i+1], err)
			}
			for v := result[len(result)-1] + 1; v <= end; v++ {
				result = append(result, v)
			}
			i++
			continue
		}
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid vlan id %q: %v", fields[i], err)
		}
		result = append(result, v)
	}
	return result, nil
}

// CompactRange compacts a list of integers into range notation.
// [1, 2, 3, 5, 7, 8, 9] -> "1-3,5,7-9"
func CompactRange(values []int) string {
	if len(values) == 0 {
		return ""
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	sorted = dedupInts(sorted)

	var parts []string
	start := sorted[0]
	end := sorted[0]

	for i := 1; i < len(sorted); i++ {
		if sorted[i] == end+1 {
			end = sorted[i]
		} else {
			parts = append(parts, formatRange(start, end))
			start = sorted[i]
			end = sorted[i]
		}
	}
	parts = append(parts, formatRange(start, end))

	return strings.Join(parts, ",")
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}

// ContainsInt reports whether v is present in values.
func ContainsInt(values []int, v int) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

// RemoveInt returns values without any occurrence of v.
func RemoveInt(values []int, v int) []int {
	result := values[:0:0]
	for _, item := range values {
		if item != v {
			result = append(result, item)
		}
	}
	return result
}
