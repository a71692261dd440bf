package signature

import (
	"testing"
	"time"
)

func testSignature(capture *time.Time) Signature {
	return Signature{
		ContentHash: "deadbeefcafe0123456789abcdef",
		CaptureTime: capture,
	}
}

func TestBuildPath_usesCaptureTime(t *testing.T) {
	capture := time.Date(2023, 7, 14, 9, 30, 15, 0, time.UTC)
	importedAt := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	got := BuildPath(testSignature(&capture), "picker", "JPG", importedAt, nil)
	want := "2023/07/14/20230714T093015_picker_deadbeef.jpg"
	if got != want {
		t.Fatalf("BuildPath = %s, want %s", got, want)
	}
}

func TestBuildPath_fallsBackToImportTime(t *testing.T) {
	importedAt := time.Date(2026, 1, 2, 10, 20, 30, 0, time.UTC)

	got := BuildPath(testSignature(nil), "local", "png", importedAt, nil)
	want := "2026/01/02/20260102T102030_local_deadbeef.png"
	if got != want {
		t.Fatalf("BuildPath = %s, want %s", got, want)
	}
}

func TestBuildPath_deterministicForIdenticalInputs(t *testing.T) {
	capture := time.Date(2023, 7, 14, 9, 30, 15, 0, time.UTC)
	importedAt := time.Now()

	first := BuildPath(testSignature(&capture), "picker", "jpg", importedAt, nil)
	second := BuildPath(testSignature(&capture), "picker", "jpg", importedAt, nil)
	if first != second {
		t.Fatalf("identical inputs produced %s and %s", first, second)
	}
}

func TestBuildPath_collisionCounter(t *testing.T) {
	capture := time.Date(2023, 7, 14, 9, 30, 15, 0, time.UTC)
	taken := map[string]bool{
		"2023/07/14/20230714T093015_picker_deadbeef.jpg":   true,
		"2023/07/14/20230714T093015_picker_deadbeef_1.jpg": true,
	}

	got := BuildPath(testSignature(&capture), "picker", "jpg", time.Now(), func(p string) bool {
		return taken[p]
	})
	want := "2023/07/14/20230714T093015_picker_deadbeef_2.jpg"
	if got != want {
		t.Fatalf("BuildPath = %s, want %s", got, want)
	}
}

func TestBuildPath_sanitizesTagAndExtension(t *testing.T) {
	capture := time.Date(2023, 7, 14, 9, 30, 15, 0, time.UTC)

	got := BuildPath(testSignature(&capture), "  My Phone  ", ".JPEG", time.Now(), nil)
	want := "2023/07/14/20230714T093015_my-phone_deadbeef.jpeg"
	if got != want {
		t.Fatalf("BuildPath = %s, want %s", got, want)
	}

	got = BuildPath(testSignature(&capture), "///", "", time.Now(), nil)
	want = "2023/07/14/20230714T093015_import_deadbeef.bin"
	if got != want {
		t.Fatalf("BuildPath = %s, want %s", got, want)
	}
}
