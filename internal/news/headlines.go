// Package news gathers market headlines for round context. It is a reduced
// descendant of a full research pipeline: headlines only, no scoring.
package news

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"agent-trading-floor/internal/logger"
)

// Source defines one headline page and the selector for its entries.
type Source struct {
	Name     string
	URL      string
	Selector string
}

func defaultSources() []Source {
	return []Source{
		{
			Name:     "MoneyControl",
			URL:      "https://www.moneycontrol.com/news/business/markets/",
			Selector: "li.clearfix h2 a",
		},
		{
			Name:     "EconomicTimes",
			URL:      "https://economictimes.indiatimes.com/markets",
			Selector: "div.story-box a",
		},
	}
}

// Gatherer scrapes headlines with a short-lived cache so every agent's
// round in the same cycle shares one fetch.
type Gatherer struct {
	sources  []Source
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

func NewGatherer(cacheTTL time.Duration) *Gatherer {
	return &Gatherer{sources: defaultSources(), cacheTTL: cacheTTL}
}

// Headlines returns up to max current headlines. Scrape failures degrade to
// whatever is cached, then to nothing; headlines are context garnish, never
// load-bearing for a round.
func (g *Gatherer) Headlines(ctx context.Context, max int) []string {
	g.mu.Lock()
	if time.Since(g.fetchedAt) < g.cacheTTL && g.cached != nil {
		out := clip(g.cached, max)
		g.mu.Unlock()
		return out
	}
	g.mu.Unlock()

	fresh := g.scrape(ctx, max)

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(fresh) > 0 {
		g.cached = fresh
		g.fetchedAt = time.Now()
	}
	return clip(g.cached, max)
}

func (g *Gatherer) scrape(ctx context.Context, max int) []string {
	var (
		mu        sync.Mutex
		headlines []string
	)

	for _, src := range g.sources {
		if err := ctx.Err(); err != nil {
			break
		}

		c := colly.NewCollector(
			colly.MaxDepth(1),
			colly.UserAgent("Mozilla/5.0 (compatible; trading-floor/1.0)"),
		)
		c.SetRequestTimeout(10 * time.Second)

		selector := src.Selector
		c.OnHTML("body", func(e *colly.HTMLElement) {
			e.DOM.Find(selector).Each(func(_ int, s *goquery.Selection) {
				title := strings.TrimSpace(s.Text())
				if title == "" || len(title) < 15 {
					return
				}
				mu.Lock()
				headlines = append(headlines, title)
				mu.Unlock()
			})
		})

		if err := c.Visit(src.URL); err != nil {
			logger.Debug(ctx, "Headline scrape failed", "source", src.Name, "error", err)
			continue
		}
		c.Wait()

		mu.Lock()
		n := len(headlines)
		mu.Unlock()
		if n >= max {
			break
		}
	}
	return clip(headlines, max)
}

func clip(s []string, max int) []string {
	if max <= 0 || len(s) <= max {
		out := make([]string, len(s))
		copy(out, s)
		return out
	}
	out := make([]string, max)
	copy(out, s[:max])
	return out
}
