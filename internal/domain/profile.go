package domain

import "time"

// Language is one entry of a profile's top languages.
type Language struct {
	Name    string  `json:"name"`
	Color   string  `json:"color,omitempty"`
	Percent float64 `json:"percent"`
}

// Profile is the cached GitHub statistics for a subject. Aggregating them is
// outside this service; it only reads what has been stored.
type Profile struct {
	Login              string     `json:"login"`
	TotalStars         int        `json:"totalStars"`
	TotalPullRequests  int        `json:"totalPullRequests"`
	ClosedIssues       int        `json:"closedIssues"`
	TopLanguages       []Language `json:"topLanguages"`
	AllWeekdays        []int      `json:"allWeekdays"`
	LongestStreak      int        `json:"longestStreak"`
	TotalContributions int        `json:"totalContributions"`
	ContributionData   []int      `json:"contributionData"`
	FetchedAt          time.Time  `json:"fetchedAt"`
}

// VideoProps are the input props of the "Main" composition.
type VideoProps struct {
	Login              string     `json:"login"`
	Theme              Variant    `json:"theme"`
	Stars              int        `json:"stars"`
	PullRequests       int        `json:"pullRequests"`
	Issues             int        `json:"issues"`
	TopLanguages       []Language `json:"topLanguages"`
	Weekdays           []int      `json:"weekdays"`
	LongestStreak      int        `json:"longestStreak"`
	TotalContributions int        `json:"totalContributions"`
	ContributionData   []int      `json:"contributionData"`
}

// StillProps are the input props of the still image compositions.
type StillProps struct {
	Login              string    `json:"login"`
	Stars              int       `json:"stars"`
	PullRequests       int       `json:"pullRequests"`
	Issues             int       `json:"issues"`
	TopLanguage        *Language `json:"topLanguage"`
	Weekdays           []int     `json:"weekdays"`
	LongestStreak      int       `json:"longestStreak"`
	TotalContributions int       `json:"totalContributions"`
	ContributionData   []int     `json:"contributionData"`
}

// VideoProps builds the video input for variant.
func (p Profile) VideoProps(variant Variant) VideoProps {
	return VideoProps{
		Login:              p.Login,
		Theme:              variant,
		Stars:              p.TotalStars,
		PullRequests:       p.TotalPullRequests,
		Issues:             p.ClosedIssues,
		TopLanguages:       p.TopLanguages,
		Weekdays:           p.AllWeekdays,
		LongestStreak:      p.LongestStreak,
		TotalContributions: p.TotalContributions,
		ContributionData:   p.ContributionData,
	}
}

// StillProps builds the share and story image input.
func (p Profile) StillProps() StillProps {
	var top *Language
	if len(p.TopLanguages) > 0 {
		l := p.TopLanguages[0]
		top = &l
	}
	return StillProps{
		Login:              p.Login,
		Stars:              p.TotalStars,
		PullRequests:       p.TotalPullRequests,
		Issues:             p.ClosedIssues,
		TopLanguage:        top,
		Weekdays:           p.AllWeekdays,
		LongestStreak:      p.LongestStreak,
		TotalContributions: p.TotalContributions,
		ContributionData:   p.ContributionData,
	}
}
