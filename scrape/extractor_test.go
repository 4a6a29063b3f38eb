package scrape

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/coursetrack/browser"
	"github.com/campushq/coursetrack/internal/testsupport"
)

const (
	staticBase = "https://learningsuite.byu.edu"
	sessBase   = staticBase + "/.AbCd"
)

type fakeSession struct {
	page       *testsupport.FakePage
	valid      func() bool
	refresh    func() bool
	navErr     func(path string) error
	keepAlives int
	refreshes  int
}

func (s *fakeSession) Navigate(path, description string) error {
	if s.navErr != nil {
		if err := s.navErr(path); err != nil {
			return err
		}
	}
	return s.page.Navigate(sessBase + path)
}

func (s *fakeSession) Page() browser.Page { return s.page }

func (s *fakeSession) IsValid() bool {
	if s.valid == nil {
		return true
	}
	return s.valid()
}

func (s *fakeSession) Refresh() bool {
	s.refreshes++
	if s.refresh == nil {
		return false
	}
	return s.refresh()
}

func (s *fakeSession) KeepAlive() { s.keepAlives++ }

func newTestExtractor(t *testing.T, sess Session) *Extractor {
	t.Helper()
	e, err := NewExtractor(Options{
		Session:       sess,
		StaticBaseURL: staticBase,
		Timezone:      denver(t),
	})
	require.NoError(t, err)
	e.now = func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, denver(t))
	}
	return e
}

func homeWithCourses(links ...browser.Link) map[string]testsupport.PageState {
	return map[string]testsupport.PageState{
		sessBase + "/student/top": {Text: "Student Home", Links: links},
	}
}

const gradebookPayload = `<html><script>
var assignments = [
	{"name":"Homework 1","dueDate":"2026-01-29 12:30:00","score":95,"buttonText":"View","description":"<p>Do &amp; submit</p>","url":"hw1","id":101},
	{"name":"Quiz 1","dueDate":"","buttonText":"Opens Jan 15","type":"quiz","id":"q77"},
	{"name":"Essay Draft","dueDate":"Thursday, Jan 22 at 11:59pm","buttonText":"Continue","url":"essay-1"},
];
</script></html>`

func TestDiscoverCourses(t *testing.T) {
	page := &testsupport.FakePage{
		Pages: homeWithCourses(
			browser.Link{
				Href: sessBase + "/cid-abc123/student/top",
				Text: "C S 142 (Section 001) - Intro to Programming View",
			},
			browser.Link{Href: sessBase + "/cid-abc123/student/top", Text: "Go"},
			browser.Link{Href: sessBase + "/cid-xyz789/student/top", Text: "REL C 333 (Section 2) - Teachings and Doctrine"},
			browser.Link{Href: sessBase + "/cid-zzz/student/top", Text: "Campus Bookstore"},
		),
	}
	e := newTestExtractor(t, &fakeSession{page: page})

	courses, err := e.DiscoverCourses()
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, Course{ID: "abc123", Name: "C S 142 (Section 001) - Intro to Programming"}, courses[0])
	assert.Equal(t, Course{ID: "xyz789", Name: "REL C 333 (Section 2) - Teachings and Doctrine"}, courses[1])
}

func TestScrapeAllCourses_EmbeddedPayload(t *testing.T) {
	page := &testsupport.FakePage{
		Pages: homeWithCourses(browser.Link{
			Href: sessBase + "/cid-abc123/student/top",
			Text: "C S 142 (Section 001) - Intro to Programming",
		}),
	}
	page.Pages[sessBase+"/cid-abc123/student/gradebook"] = testsupport.PageState{
		Text:   "Gradebook",
		Source: gradebookPayload,
	}
	// Payload has fewer than five items, so the exams view is consulted.
	page.Pages[sessBase+"/cid-abc123/student/exams"] = testsupport.PageState{Text: "Exams"}

	sess := &fakeSession{page: page}
	e := newTestExtractor(t, sess)

	var progressCalls []string
	report, err := e.ScrapeAllCourses(func(done, total int, name string) {
		progressCalls = append(progressCalls, fmt.Sprintf("%d/%d %s", done, total, name))
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalCourses)
	assert.Equal(t, 1, report.CoursesScraped)
	assert.Empty(t, report.FailedCourses)
	require.Len(t, report.Assignments, 3)

	hw := report.Assignments[0]
	assert.Equal(t, "Homework 1", hw.Title)
	assert.Equal(t, StatusSubmitted, hw.Status)
	assert.Equal(t, "Do & submit", hw.Description)
	assert.Equal(t, staticBase+"/cid-abc123/student/assignment/hw1", hw.Link)
	require.NotNil(t, hw.DueDate)
	assert.Equal(t, 29, hw.DueDate.Day())

	quiz := report.Assignments[1]
	assert.Equal(t, StatusUnavailable, quiz.Status)
	assert.Equal(t, staticBase+"/cid-abc123/student/exam/info/id-q77", quiz.Link)
	require.NotNil(t, quiz.DueDate, "opens date should backfill the due date")
	assert.Equal(t, time.January, quiz.DueDate.Month())
	assert.Equal(t, 15, quiz.DueDate.Day())
	assert.Equal(t, 2026, quiz.DueDate.Year())

	essay := report.Assignments[2]
	assert.Equal(t, StatusInProgress, essay.Status)
	assert.Equal(t, staticBase+"/cid-abc123/student/assignment/essay-1", essay.Link)

	assert.Equal(t, []string{
		"0/1 ",
		"1/1 C S 142 (Section 001) - Intro to Programming",
	}, progressCalls)
}

func TestScrapeAllCourses_ExamSupplementDeduplicates(t *testing.T) {
	page := &testsupport.FakePage{
		Pages: homeWithCourses(browser.Link{
			Href: sessBase + "/cid-abc123/student/top",
			Text: "C S 142 (Section 001) - Intro to Programming",
		}),
	}
	page.Pages[sessBase+"/cid-abc123/student/gradebook"] = testsupport.PageState{
		Source: `<script>var assignments = [{"name":"Midterm Exam","buttonText":"Take","type":"exam","id":"e1"}];</script>`,
	}
	page.Pages[sessBase+"/cid-abc123/student/exams"] = testsupport.PageState{
		Links: []browser.Link{
			{Href: sessBase + "/cid-abc123/student/exam/info/id-e1", Text: "Midterm Exam"},
			{Href: sessBase + "/cid-abc123/student/exam/info/id-e2", Text: "Final Exam"},
		},
	}

	e := newTestExtractor(t, &fakeSession{page: page})
	report, err := e.ScrapeAllCourses(nil, nil)
	require.NoError(t, err)

	require.Len(t, report.Assignments, 2, "duplicate title from exams view must be dropped")
	final := report.Assignments[1]
	assert.Equal(t, "Final Exam", final.Title)
	assert.Equal(t, "e2", final.SiteID)
	assert.Equal(t, staticBase+"/cid-abc123/student/exam/info/id-e2", final.Link,
		"session segment must be stripped from persisted links")
}

func threeCoursePage() *testsupport.FakePage {
	page := &testsupport.FakePage{
		Pages: homeWithCourses(
			browser.Link{Href: sessBase + "/cid-a/x", Text: "C S 142 (Section 1) - Alpha"},
			browser.Link{Href: sessBase + "/cid-b/x", Text: "C S 235 (Section 1) - Bravo"},
			browser.Link{Href: sessBase + "/cid-c/x", Text: "C S 252 (Section 1) - Charlie"},
		),
	}
	for _, cid := range []string{"a", "b", "c"} {
		page.Pages[sessBase+"/cid-"+cid+"/student/gradebook"] = testsupport.PageState{
			Source: `<script>var assignments = [
				{"name":"HW ` + cid + ` 1","buttonText":"Submit"},
				{"name":"HW ` + cid + ` 2","buttonText":"Submit"},
				{"name":"HW ` + cid + ` 3","buttonText":"Submit"},
				{"name":"HW ` + cid + ` 4","buttonText":"Submit"},
				{"name":"HW ` + cid + ` 5","buttonText":"Submit"}
			];</script>`,
		}
	}
	return page
}

func TestScrapeAllCourses_PartialFailure(t *testing.T) {
	page := threeCoursePage()
	sess := &fakeSession{page: page}
	sess.navErr = func(path string) error {
		if path == "/cid-a/student/gradebook" {
			return fmt.Errorf("gradebook render hung")
		}
		return nil
	}
	e := newTestExtractor(t, sess)

	var progressNames []string
	var results []CourseResult
	report, err := e.ScrapeAllCourses(func(done, total int, name string) {
		if done > 0 {
			progressNames = append(progressNames, name)
		}
	}, func(result CourseResult) {
		results = append(results, result)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalCourses)
	assert.Equal(t, 2, report.CoursesScraped)
	assert.Equal(t, []string{"C S 142 (Section 1) - Alpha"}, report.FailedCourses)
	assert.Len(t, report.Assignments, 10)

	// Progress fires exactly once per course, including the failed one.
	require.Len(t, progressNames, 3)
	assert.Contains(t, progressNames[0], "(failed)")

	require.Len(t, results, 3)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
}

func TestScrapeAllCourses_BatchRetryRecovers(t *testing.T) {
	page := threeCoursePage()
	failures := 1
	sess := &fakeSession{page: page}
	sess.navErr = func(path string) error {
		if path == "/cid-a/student/gradebook" && failures > 0 {
			failures--
			return fmt.Errorf("transient timeout")
		}
		return nil
	}
	e := newTestExtractor(t, sess)

	var recovered []CourseResult
	report, err := e.ScrapeAllCourses(nil, func(result CourseResult) {
		recovered = append(recovered, result)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.CoursesScraped)
	assert.Empty(t, report.FailedCourses)
	assert.Len(t, report.Assignments, 15)

	// The failed course reports twice: once failed, once recovered.
	require.Len(t, recovered, 4)
	assert.Error(t, recovered[0].Err)
	last := recovered[3]
	assert.NoError(t, last.Err)
	assert.Equal(t, "a", last.Course.ID)
}

func TestScrapeAllCourses_DeadSessionSkipsNavigation(t *testing.T) {
	page := threeCoursePage()
	sess := &fakeSession{
		page:    page,
		valid:   func() bool { return false },
		refresh: func() bool { return false },
	}
	e := newTestExtractor(t, sess)

	// Course discovery still works through the guarded Navigate; only
	// per-course validity checks fail here.
	report, err := e.ScrapeAllCourses(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, report.CoursesScraped)
	assert.Len(t, report.FailedCourses, 3)
	assert.Empty(t, report.Assignments)
}

func TestStripSessionSegment(t *testing.T) {
	e := newTestExtractor(t, &fakeSession{page: &testsupport.FakePage{}})
	assert.Equal(t,
		staticBase+"/cid-a/student/assignment/7",
		e.StripSessionSegment(sessBase+"/cid-a/student/assignment/7"))
	assert.Equal(t,
		staticBase+"/cid-a/x",
		e.StripSessionSegment(staticBase+"/cid-a/x"))
}
