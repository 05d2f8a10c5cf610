// Package testutil provides shared fixtures, fakes and helpers for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second

	// TestDimensions is the hash embedder size used across package tests
	TestDimensions = 1024
)

// Fixture database ids, in corpus order
const (
	ConcertSingerID = "concert_singer"
	PetsID          = "pets_1"
	FlightsID       = "flight_2"
)

// Questions with known routing under the hash embedder. Bag-of-words scores
// run lower than a sentence model, so relevant questions clear roughly 0.3 on
// fine-grained schema text; see RelevantThreshold.
const (
	// SingerQuestion routes to concert_singer and projects the singer table
	SingerQuestion = "show the name, country and age of every singer"

	// StadiumQuestion routes to concert_singer and projects the stadium table
	StadiumQuestion = "show the stadium name and capacity"

	// WeatherQuestion shares no schema vocabulary
	WeatherQuestion = "what is the weather today"

	// SingerCompletion is a plausible model completion for SingerQuestion
	SingerCompletion = "name, country, age from singer;"

	// RelevantThreshold admits the fixture questions above but not WeatherQuestion
	RelevantThreshold = 0.25
)
