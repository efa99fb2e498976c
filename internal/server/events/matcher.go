package events

import "strings"

// Match evaluates if an event matches a pattern. Empty criteria match
// everything.
func Match(event Event, pattern Pattern) bool {
	if len(pattern.EventTypes) > 0 {
		matched := false
		for _, et := range pattern.EventTypes {
			if et == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(pattern.RecordTypes) > 0 {
		matched := false
		for _, rt := range pattern.RecordTypes {
			if rt != "" && strings.HasPrefix(event.RecordType, rt) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}
