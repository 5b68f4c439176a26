package transcript

import (
	"testing"
)

func TestNormalize_PhoneticNearMiss(t *testing.T) {
	t.Parallel()

	n := New([]string{"Kubernetes", "PostgreSQL"})

	got, corrections := n.Normalize("we deploy with kubernetez on three clusters")
	if got != "we deploy with Kubernetes on three clusters" {
		t.Errorf("unexpected normalization: %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d: %+v", len(corrections), corrections)
	}
	if corrections[0].Original != "kubernetez" || corrections[0].Term != "Kubernetes" {
		t.Errorf("unexpected correction: %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("expected positive confidence, got %f", corrections[0].Confidence)
	}
}

func TestNormalize_ExactHitIsNotACorrection(t *testing.T) {
	t.Parallel()

	n := New([]string{"Redis"})

	got, corrections := n.Normalize("we cache sessions in redis")
	if got != "we cache sessions in redis" {
		t.Errorf("exact hits must pass through unchanged, got %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("exact hits must not be recorded as corrections: %+v", corrections)
	}
}

func TestNormalize_MultiWordTerm(t *testing.T) {
	t.Parallel()

	n := New([]string{"spring boot"})

	got, corrections := n.Normalize("the service uses spring booth for configuration")
	if got != "the service uses spring boot for configuration" {
		t.Errorf("unexpected normalization: %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	if corrections[0].Original != "spring booth" {
		t.Errorf("expected the full window recorded, got %q", corrections[0].Original)
	}
}

func TestNormalize_UnrelatedTextUntouched(t *testing.T) {
	t.Parallel()

	n := New([]string{"Kubernetes", "GraphQL"})

	in := "my previous role involved mentoring two junior engineers"
	got, corrections := n.Normalize(in)
	if got != in {
		t.Errorf("unrelated text changed: %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections, got %+v", corrections)
	}
}

func TestNormalize_EmptyVocabularyPassThrough(t *testing.T) {
	t.Parallel()

	n := New(nil)
	in := "anything at all"
	got, corrections := n.Normalize(in)
	if got != in || corrections != nil {
		t.Errorf("empty vocabulary must pass through: %q %+v", got, corrections)
	}
}

func TestNormalize_EmptyText(t *testing.T) {
	t.Parallel()

	n := New([]string{"Go"})
	got, corrections := n.Normalize("")
	if got != "" || len(corrections) != 0 {
		t.Errorf("empty text must pass through: %q %+v", got, corrections)
	}
}

func TestNormalize_BlankVocabularyEntriesIgnored(t *testing.T) {
	t.Parallel()

	n := New([]string{"", "  ", "Terraform"})
	got, _ := n.Normalize("we provision with teraform scripts")
	if got != "we provision with Terraform scripts" {
		t.Errorf("unexpected normalization: %q", got)
	}
}

func TestNormalize_FuzzyThresholdRejectsWeakMatches(t *testing.T) {
	t.Parallel()

	// "cat" shares no phonetic codes or meaningful similarity with "Kafka";
	// it must survive untouched even though both start with a hard C sound
	// context.
	n := New([]string{"Kafka"})
	got, corrections := n.Normalize("my cat walked over the keyboard")
	if got != "my cat walked over the keyboard" {
		t.Errorf("weak match must be rejected: %q", got)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections, got %+v", corrections)
	}
}
