package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	githubStarsSelector = ".js-social-count"
	gitlabStarsSelector = ".star-count"
)

// extractStars reads the star count from a repository page. GitHub
// exposes the exact count in the social-count element's title attribute
// (commas stripped, empty when the attribute is absent); GitLab renders
// it as text. Unrecognized hosts have no popularity signal and score
// "0". Dispatch is a plain substring match on the URL, so a "github"
// anywhere in the path counts as GitHub.
func extractStars(doc *goquery.Document, repoURL string) (string, error) {
	switch {
	case strings.Contains(repoURL, "github"):
		sel := doc.Find(githubStarsSelector)
		if sel.Length() == 0 {
			return "", ErrMissingElement{Selector: githubStarsSelector}
		}
		title := sel.First().AttrOr("title", "")
		return strings.ReplaceAll(title, ",", ""), nil
	case strings.Contains(repoURL, "gitlab"):
		sel := doc.Find(gitlabStarsSelector)
		if sel.Length() == 0 {
			return "", ErrMissingElement{Selector: gitlabStarsSelector}
		}
		return strings.TrimSpace(sel.First().Text()), nil
	default:
		return "0", nil
	}
}

// cleanRepoURL trims GitHub URLs down to scheme, host, owner and repo
// so deep links (issues, trees, releases) collapse into one canonical
// repository URL. Other hosts pass through untouched; GitLab deep links
// stay deep.
func cleanRepoURL(repoURL string) string {
	if !strings.Contains(repoURL, "github") {
		return repoURL
	}
	parts := strings.SplitN(repoURL, "/", 6)
	if len(parts) > 5 {
		parts = parts[:5]
	}
	return strings.Join(parts, "/")
}
