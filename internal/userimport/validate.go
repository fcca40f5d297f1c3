package userimport

import (
	"sort"

	"photorestore/internal/supabase"
)

type Mismatch struct {
	Email  string `json:"email"`
	Field  string `json:"field"`
	Export string `json:"export"`
	Live   string `json:"live"`
}

type ValidationReport struct {
	ExportCount int        `json:"export_count"`
	LiveCount   int        `json:"live_count"`
	Missing     []string   `json:"missing"`
	Extra       []string   `json:"extra"`
	Mismatched  []Mismatch `json:"mismatched"`
}

// OK reports whether the live list matches the export.
func (r ValidationReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Mismatched) == 0
}

// Validate diffs an export against the live user list by email.
func Validate(export []ExportedUser, live []supabase.User) ValidationReport {
	report := ValidationReport{
		ExportCount: len(export),
		LiveCount:   len(live),
		Missing:     []string{},
		Extra:       []string{},
		Mismatched:  []Mismatch{},
	}

	liveByEmail := make(map[string]supabase.User, len(live))
	for _, u := range live {
		liveByEmail[normalizeEmail(u.Email)] = u
	}
	exported := make(map[string]struct{}, len(export))

	for _, u := range export {
		email := normalizeEmail(u.Email)
		if email == "" {
			continue
		}
		exported[email] = struct{}{}
		got, ok := liveByEmail[email]
		if !ok {
			report.Missing = append(report.Missing, email)
			continue
		}
		if u.ID != "" && got.ID != u.ID {
			report.Mismatched = append(report.Mismatched, Mismatch{Email: email, Field: "id", Export: u.ID, Live: got.ID})
		}
		if want, have := u.EmailConfirmedAt != nil, got.EmailConfirmedAt != nil; want != have {
			report.Mismatched = append(report.Mismatched, Mismatch{
				Email: email, Field: "email_confirmed", Export: yesNo(want), Live: yesNo(have),
			})
		}
	}
	for email := range liveByEmail {
		if _, ok := exported[email]; !ok {
			report.Extra = append(report.Extra, email)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Extra)
	sort.Slice(report.Mismatched, func(i, j int) bool {
		if report.Mismatched[i].Email != report.Mismatched[j].Email {
			return report.Mismatched[i].Email < report.Mismatched[j].Email
		}
		return report.Mismatched[i].Field < report.Mismatched[j].Field
	})
	return report
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
