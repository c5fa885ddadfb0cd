// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"strings"
	"testing"
)

func validRelease() ReleaseDescriptor {
	return ReleaseDescriptor{
		Version:           "1.4.0",
		DownloadURL:       "https://releases.example/reporter-1.4.0.tar.gz",
		ExpectedChecksum:  strings.Repeat("ab", 32),
		ChecksumAlgorithm: AlgorithmSHA256,
	}
}

func TestReleaseDescriptor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(r *ReleaseDescriptor)
		wantErr string
	}{
		{name: "valid", mutate: func(*ReleaseDescriptor) {}},
		{name: "sha512", mutate: func(r *ReleaseDescriptor) {
			r.ChecksumAlgorithm = AlgorithmSHA512
			r.ExpectedChecksum = strings.Repeat("cd", 64)
		}},
		{name: "missing version", mutate: func(r *ReleaseDescriptor) { r.Version = "" }, wantErr: "version is required"},
		{name: "bad version", mutate: func(r *ReleaseDescriptor) { r.Version = "latest" }, wantErr: "invalid semantic version"},
		{name: "missing url", mutate: func(r *ReleaseDescriptor) { r.DownloadURL = "" }, wantErr: "download url is required"},
		{name: "relative url", mutate: func(r *ReleaseDescriptor) { r.DownloadURL = "pkg.tar.gz" }, wantErr: "absolute http(s) url"},
		{name: "missing checksum", mutate: func(r *ReleaseDescriptor) { r.ExpectedChecksum = "" }, wantErr: "checksum is required"},
		{name: "non-hex checksum", mutate: func(r *ReleaseDescriptor) { r.ExpectedChecksum = strings.Repeat("zz", 32) }, wantErr: "hex encoded"},
		{name: "length mismatch", mutate: func(r *ReleaseDescriptor) { r.ChecksumAlgorithm = AlgorithmSHA512 }, wantErr: "does not match sha512"},
		{name: "unknown algorithm", mutate: func(r *ReleaseDescriptor) { r.ChecksumAlgorithm = "md5" }, wantErr: "invalid checksum algorithm"},
		{name: "empty algorithm", mutate: func(r *ReleaseDescriptor) { r.ChecksumAlgorithm = "" }, wantErr: "invalid checksum algorithm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := validRelease()
			tt.mutate(&r)
			err := r.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReleaseDescriptor_ValidateNil(t *testing.T) {
	t.Parallel()

	var r *ReleaseDescriptor
	if err := r.Validate(); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("expected ErrValidationFailed for nil release, got %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{a: "1.4.0", b: "1.3.2", want: 1},
		{a: "v1.3.2", b: "1.3.2", want: 0},
		{a: "1.9.0", b: "1.10.0", want: -1},
		{a: "2.0.0-rc.1", b: "2.0.0", want: -1},
		{a: "10.0.0", b: "9.99.99", want: 1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.a, tt.b)
		if err != nil {
			t.Fatalf("CompareVersions(%q, %q): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := CompareVersions("one", "1.0.0"); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestStageTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[Stage][]Stage{
		StageIdle:        {StageDownloading, StageFailed},
		StageDownloading: {StageVerifying, StageFailed, StageCancelled},
		StageVerifying:   {StageInstalling, StageFailed, StageCancelled},
		StageInstalling:  {StageComplete, StageFailed},
	}

	for from := StageIdle; from <= StageCancelled; from++ {
		for to := StageIdle; to <= StageCancelled; to++ {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			if got := from.canTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}

	if StageInstalling.Cancellable() || !StageVerifying.Cancellable() {
		t.Error("only downloading and verifying accept cancellation")
	}
	if err := Stage(42).Validate(); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}
}

func TestInstallError_MatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := error(newInstallError(KindInstallFailed, StageInstalling, cause))

	if !errors.Is(err, ErrInstallFailed) || !errors.Is(err, cause) {
		t.Errorf("expected error to match kind sentinel and cause: %v", err)
	}
	if kind, ok := KindOf(err); !ok || kind != KindInstallFailed {
		t.Errorf("KindOf = %v, %v", kind, ok)
	}
	if kind, ok := KindOf(ErrBusy); !ok || kind != KindBusy {
		t.Errorf("KindOf(ErrBusy) = %v, %v", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain errors carry no kind")
	}
}
