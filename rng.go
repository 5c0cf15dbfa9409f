package main

import (
	"strings"

	"github.com/dgryski/go-wyhash"
	"github.com/google/uuid"
	"pgregory.net/rand"
)

// adjectives is a list of common adjectives
var adjectives = []string{
	"able", "bad", "best", "better", "big", "black", "certain", "clear", "different", "early",
	"easy", "economic", "federal", "free", "full", "good", "great", "hard", "high", "human",
	"important", "international", "large", "late", "little", "local", "long", "low", "major",
	"national", "new", "old", "only", "other", "possible", "public", "real", "recent", "right",
	"small", "social", "special", "strong", "sure", "true", "white", "whole", "young",
}

// nouns is a list of common nouns
var nouns = []string{
	"angle", "ant", "apple", "arch", "arm", "baby", "bag", "ball", "band", "basin", "basket", "bath",
	"bed", "bee", "bell", "berry", "bird", "blade", "board", "boat", "bone", "book", "boot", "bottle",
	"box", "brain", "brake", "branch", "brick", "bridge", "brush", "bucket", "bulb", "button", "cake",
	"camera", "card", "cart", "cat", "chain", "cheese", "chess", "circle", "clock", "cloud", "coat",
	"collar", "comb", "cord", "cup", "curtain", "cushion", "door", "drain", "drawer", "drop", "engine",
	"farm", "feather", "fish", "flag", "floor", "fork", "frame", "garden", "glove", "hammer", "hat",
	"hook", "horn", "island", "jewel", "kettle", "key", "knife", "knot", "leaf", "library", "line",
	"lock", "map", "match", "moon", "nail", "needle", "net", "nut", "office", "orange", "oven",
	"parcel", "pen", "pencil", "picture", "pin", "pipe", "plane", "plate", "pocket", "pot", "pump",
	"rail", "receipt", "ring", "rod", "roof", "root", "sail", "school", "screw", "seed", "shelf",
	"ship", "shoe", "spade", "sponge", "spoon", "spring", "square", "stamp", "star", "station",
	"stem", "stick", "store", "street", "sun", "table", "thread", "ticket", "town", "train", "tray",
	"tree", "umbrella", "wall", "watch", "wheel", "whistle", "window", "wing", "wire",
}

// Rng is the single random source of the generation thread. It is not safe
// for concurrent use; each producer owns its own.
type Rng struct {
	rng *rand.Rand
}

// NewRng seeds from the hash of s, so the same seed string repeats a run.
// An empty seed gives a randomly seeded generator.
func NewRng(s string) Rng {
	if s == "" {
		return Rng{rand.New()}
	}
	return Rng{rand.New(wyhash.Hash([]byte(s), 2467825690))}
}

func (r Rng) Intn(n int) int {
	return r.rng.Intn(n)
}

func (r Rng) Int63n(n int64) int64 {
	return r.rng.Int63n(n)
}

func (r Rng) Float64() float64 {
	return r.rng.Float64()
}

func (r Rng) Choice(a []string) string {
	return a[r.Intn(len(a))]
}

// Int returns a value in [min, max).
func (r Rng) Int(min, max int) int64 {
	if max <= min {
		return int64(min)
	}
	return int64(min + r.rng.Intn(max-min))
}

func (r Rng) Float(min, max float64) float64 {
	return r.rng.Float64()*(max-min) + min
}

func (r Rng) Gaussian(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

func (r Rng) GaussianInt(mean, stddev float64) int64 {
	return int64(r.rng.NormFloat64()*stddev + mean)
}

func (r Rng) String(len int) string {
	var b strings.Builder
	for i := 0; i < len; i++ {
		b.WriteByte("abcdefghijklmnopqrstuvwxyz"[r.Intn(26)])
	}
	return b.String()
}

func (r Rng) HexString(len int) string {
	var b strings.Builder
	for i := 0; i < len; i++ {
		b.WriteByte("0123456789abcdef"[r.Intn(16)])
	}
	return b.String()
}

func (r Rng) WordPair() string {
	return r.Choice(adjectives) + "-" + r.Choice(nouns)
}

func (r Rng) BoolWithProb(p int) bool {
	return r.Intn(100) < p
}

// Percent reports true with probability p/100. Values at or below 0 never
// fire and values at or above 100 always do.
func (r Rng) Percent(p float64) bool {
	if p <= 0 {
		return false
	}
	return r.rng.Float64()*100 < p
}

// UUID returns a version 4 uuid drawn from the seeded source, so generated
// identifiers are reproducible for a seed.
func (r Rng) UUID() uuid.UUID {
	var b uuid.UUID
	hi, lo := r.rng.Uint64(), r.rng.Uint64()
	for i := 0; i < 8; i++ {
		b[i] = byte(hi >> (8 * i))
		b[8+i] = byte(lo >> (8 * i))
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return b
}
