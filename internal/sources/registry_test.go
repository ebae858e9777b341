package sources

import (
	"testing"

	"go.uber.org/zap"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.Example.com/a?utm_source=x", "https://example.com/a"},
		{"https://example.com/a/", "https://example.com/a"},
		{"HTTPS://EXAMPLE.COM/path", "https://example.com/path"},
		{"https://example.com/a?b=1&utm_campaign=news&utm_medium=mail", "https://example.com/a?b=1"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL_VariantsCollapse(t *testing.T) {
	a, err := NormalizeURL("https://www.Example.com/a?utm_source=x")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NormalizeURL("https://example.com/a/")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("variants must normalize identically: %q vs %q", a, b)
	}
}

func TestAddBatch_DeduplicatesAndAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	ids := r.AddBatch([]Citation{
		{URL: "https://www.example.com/a?utm_source=feed", Title: "A"},
		{URL: "https://other.org/b", Title: "B"},
		{URL: "https://example.com/a/", Title: "A again"},
	}, nil, "q1")

	if r.GetCount() != 2 {
		t.Fatalf("expected 2 sources after dedup, got %d", r.GetCount())
	}
	if ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected sequential ids 1,2 got %v", ids)
	}
	if ids[2] != 1 {
		t.Fatalf("duplicate must map to first id 1, got %d", ids[2])
	}

	// The first registration wins; the duplicate's title is not applied.
	src, ok := r.GetByID(1)
	if !ok || src.Title != "A" {
		t.Fatalf("expected original title preserved, got %+v", src)
	}
	if src.Status != StatusUnchecked {
		t.Fatalf("new sources start unchecked, got %s", src.Status)
	}
	if src.OriginQuestionID != "q1" {
		t.Fatalf("origin not recorded: %+v", src)
	}
}

func TestAddBatch_SecondBatchDedupesAgainstFirst(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch([]Citation{{URL: "https://example.com/a"}}, nil, "q1")
	ids := r.AddBatch([]Citation{{URL: "https://www.example.com/a/"}}, nil, "q2")

	if r.GetCount() != 1 {
		t.Fatalf("cross-batch dedup failed, count %d", r.GetCount())
	}
	if ids[0] != 1 {
		t.Fatalf("expected existing id 1, got %d", ids[0])
	}
}

func TestAddBatch_SkipsUnparseableURLs(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ids := r.AddBatch([]Citation{
		{URL: "://no-scheme"},
		{URL: ""},
		{URL: "https://good.example.com/x"},
	}, nil, "q1")

	if r.GetCount() != 1 {
		t.Fatalf("expected only parseable URL registered, got %d", r.GetCount())
	}
	if _, ok := ids[0]; ok {
		t.Fatal("unparseable citation must be absent from the result map")
	}
	if _, ok := ids[1]; ok {
		t.Fatal("empty citation must be absent from the result map")
	}
	if ids[2] != 1 {
		t.Fatalf("expected id 1 for the valid URL, got %d", ids[2])
	}
}

func TestAddBatch_HintBackfillsTitle(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch(
		[]Citation{{URL: "https://example.com/paper"}},
		[]Hint{{URL: "https://www.example.com/paper/", Title: "The Paper"}},
		"q1",
	)
	src, _ := r.GetByID(1)
	if src.Title != "The Paper" {
		t.Fatalf("hint title not applied, got %q", src.Title)
	}
}

func TestGetByID_OutOfRange(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch([]Citation{{URL: "https://example.com/a"}}, nil, "q1")
	if _, ok := r.GetByID(0); ok {
		t.Fatal("id 0 must not resolve")
	}
	if _, ok := r.GetByID(2); ok {
		t.Fatal("id past the end must not resolve")
	}
}

func TestGetAll_ReturnsCopies(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch([]Citation{{URL: "https://example.com/a", Title: "A"}}, nil, "q1")

	all := r.GetAll()
	all[0].Title = "mutated"
	src, _ := r.GetByID(1)
	if src.Title != "A" {
		t.Fatal("GetAll must return copies, registry was mutated")
	}
}

func TestAuthorityScore(t *testing.T) {
	cases := []struct {
		domain string
		want   float64
	}{
		{"nature.com", 0.95},
		{"www.reuters.com", 0.90},
		{"en.wikipedia.org", 0.75},
		{"cdc.gov", 0.92},
		{"mit.edu", 0.85},
		{"examplefoundation.org", 0.65},
		{"stateuniversity.example.com", 0.80},
		{"dailynews.example.com", 0.55},
		{"myblog.example.com", 0.40},
		{"random.example.com", 0.50},
		{"", 0.50},
	}
	for _, tc := range cases {
		if got := AuthorityScore(tc.domain); got != tc.want {
			t.Fatalf("AuthorityScore(%q) = %f, want %f", tc.domain, got, tc.want)
		}
	}
}

func TestAddBatch_ScoresDomain(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.AddBatch([]Citation{{URL: "https://www.nature.com/articles/x"}}, nil, "q1")
	src, _ := r.GetByID(1)
	if src.Domain != "nature.com" {
		t.Fatalf("expected normalized domain, got %q", src.Domain)
	}
	if src.AuthorityScore != 0.95 {
		t.Fatalf("expected authority 0.95, got %f", src.AuthorityScore)
	}
}

func TestParseCitationMarkers(t *testing.T) {
	cases := []struct {
		text       string
		registered int
		want       []int
	}{
		{"Revenue grew 40% [1] and margins held [2].", 3, []int{1, 2}},
		{"Both forms [src_2] and [2] collapse.", 3, []int{2}},
		{"Out of range [9] is dropped, [1] kept.", 2, []int{1}},
		{"Repeated [1] markers [1] collapse [1].", 2, []int{1}},
		{"Zero is invalid [0].", 2, nil},
		{"No markers at all.", 2, nil},
		{"Malformed [abc] ignored.", 2, nil},
	}
	for _, tc := range cases {
		got := ParseCitationMarkers(tc.text, tc.registered)
		if len(got) != len(tc.want) {
			t.Fatalf("ParseCitationMarkers(%q) = %v, want %v", tc.text, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ParseCitationMarkers(%q) = %v, want %v", tc.text, got, tc.want)
			}
		}
	}
}
