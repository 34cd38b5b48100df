package postprocess

import "sort"

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ClassAware   bool    `json:"class_aware" yaml:"class_aware"`     // If true, suppress only within same class.
}

// ApplyNMS filters overlapping records using greedy Non-Maximum Suppression.
//
// Records are stably sorted by descending confidence, then every record that overlaps an
// earlier kept record with IoU strictly above the threshold is removed. The input slice is
// reordered and reused for the result.
//
// Arguments:
//   - records: Records to filter, in any order.
//   - config: NMS configuration.
//
// Returns:
//   - []Record: The kept records, highest confidence first. If no records are provided, returns nil.
func ApplyNMS(records []Record, config NMSConfig) []Record {
	n := len(records)
	if n == 0 {
		return nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Confidence > records[j].Confidence
	})

	used := make([]bool, n)
	kept := records[:0]

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		anchor := records[i]

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.LabelID != records[j].LabelID {
				continue
			}
			if anchor.IoU(records[j]) > config.IoUThreshold {
				used[j] = true
			}
		}

		kept = append(kept, anchor)
	}

	return kept
}

// Suppress applies global greedy Non-Maximum Suppression across all classes.
//
// Arguments:
//   - records: Records to filter.
//   - iouThreshold: IoU above which the lower-confidence record is removed.
//
// Returns:
//   - []Record: The kept records, highest confidence first.
func Suppress(records []Record, iouThreshold float64) []Record {
	return ApplyNMS(records, NMSConfig{IoUThreshold: iouThreshold})
}
