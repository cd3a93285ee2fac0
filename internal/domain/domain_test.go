package domain_test

import (
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/serp-tracker/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Helper()

	tests := []struct {
		component    string
		index        int
		wantPageID   string
		wantAd       bool
		wantOverview bool
		wantAIMode   bool
	}{
		{"SearchResults", 0, "organic_1", false, false, false},
		{"SearchResults-Sitelinks", 1, "sitelink_2", false, false, false},
		{"AiOverview-References", 2, "overview_ref_3", false, true, false},
		{"AIMode", 0, "aimode_ref_1", false, false, true},
		{"AiMode-Sidebar", 4, "aimode_ref_5", false, false, true},
		{"SearchTabs", 3, "tab_4", false, false, false},
		{"PeopleAlsoSearch", 0, "related_1", false, false, false},
		{"RelatedSearches", 1, "related_2", false, false, false},
		{"SponsoredResults", 0, "organic_1", true, false, false},
		{"Shopping-Ad", 1, "organic_2", true, false, false},
		{"DiscussionsForums", 0, "other_1", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			c := domain.Classify(tt.component)

			if got := c.PageID(tt.index); got != tt.wantPageID {
				t.Errorf("PageID = %q, want %q", got, tt.wantPageID)
			}
			if c.IsAd != tt.wantAd {
				t.Errorf("IsAd = %v, want %v", c.IsAd, tt.wantAd)
			}
			if c.FromOverview() != tt.wantOverview {
				t.Errorf("FromOverview = %v, want %v", c.FromOverview(), tt.wantOverview)
			}
			if c.FromAIMode() != tt.wantAIMode {
				t.Errorf("FromAIMode = %v, want %v", c.FromAIMode(), tt.wantAIMode)
			}
		})
	}
}

func TestIdentity_TaskIDAndSameSession(t *testing.T) {
	t.Helper()

	a := domain.Identity{RunID: "S1", ParticipantID: "P7", Topic: "Laptop", TreatmentGroup: "ai_a", Page: 1}
	b := a
	b.Page = 2

	if got := a.TaskID(); got != "S1_P7_Laptop_ai_a" {
		t.Errorf("TaskID = %q", got)
	}
	if !a.SameSession(b) {
		t.Error("page change must not change the session tuple")
	}

	b.Topic = "Phone"
	if a.SameSession(b) {
		t.Error("topic change must change the session tuple")
	}
}

func TestTaskSession_NextClickOrder(t *testing.T) {
	t.Helper()

	s := domain.NewTaskSession(domain.Identity{RunID: "S", ParticipantID: "P"}, time.Now())
	if got := s.NextClickOrder(); got != 1 {
		t.Fatalf("empty session NextClickOrder = %d, want 1", got)
	}

	s.Clicks = append(s.Clicks, domain.ClickEvent{ClickOrder: 1})
	s.ShowMore = append(s.ShowMore, domain.Interaction{ClickOrder: 4})
	s.ShowAll = append(s.ShowAll, domain.Interaction{ClickOrder: 2})

	if got := s.NextClickOrder(); got != 5 {
		t.Errorf("NextClickOrder = %d, want 5", got)
	}
}

func TestTaskSession_FinalizeNeverBeforeStart(t *testing.T) {
	t.Helper()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := domain.NewTaskSession(domain.Identity{}, start)
	s.Finalize(start.Add(-time.Minute))

	if !s.Finalized() || s.EndTime.Before(s.StartTime) {
		t.Errorf("EndTime %v must not precede StartTime %v", s.EndTime, s.StartTime)
	}
}

func TestTaskTypeWire(t *testing.T) {
	t.Helper()

	if domain.TaskTypeProduct.Wire() != "PRODUCT" || domain.TaskTypeInfo.Wire() != "INFO" {
		t.Error("unexpected wire values")
	}
	if domain.TaskTypeFromWire("PRODUCT") != domain.TaskTypeProduct {
		t.Error("PRODUCT should parse to product")
	}
	if domain.TaskTypeFromWire("bogus") != domain.TaskTypeInfo {
		t.Error("unknown wire values should parse to info")
	}
}

func TestNavigationFromURL(t *testing.T) {
	t.Helper()

	nav, err := domain.NavigationFromURL("c1", "https://serp.test/Laptop/ai/a/2?RID=P7&SID=S1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nav.Path != "/Laptop/ai/a/2" || nav.Param("RID") != "P7" || nav.ClientID != "c1" {
		t.Errorf("unexpected navigation: %+v", nav)
	}
}

func TestTaskSession_CloneIsDeep(t *testing.T) {
	s := domain.NewTaskSession(domain.Identity{RunID: "S1", ParticipantID: "P1", Topic: "Laptop", TreatmentGroup: "ai_a"}, time.Now())
	dwell := 3.5
	s.Clicks = append(s.Clicks, domain.ClickEvent{ClickOrder: 1, DwellTimeSec: &dwell})
	s.PageClickCounts[1] = 1

	c := s.Clone()
	*c.Clicks[0].DwellTimeSec = 9
	c.PageClickCounts[1] = 5
	c.Clicks = append(c.Clicks, domain.ClickEvent{ClickOrder: 2})

	if *s.Clicks[0].DwellTimeSec != 3.5 {
		t.Errorf("dwell shared with clone: %v", *s.Clicks[0].DwellTimeSec)
	}
	if s.PageClickCounts[1] != 1 {
		t.Errorf("page counts shared with clone: %v", s.PageClickCounts)
	}
	if len(s.Clicks) != 1 {
		t.Errorf("clicks shared with clone: %d", len(s.Clicks))
	}
}
