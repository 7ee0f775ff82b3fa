// Package extract turns fetched HTML into readable text and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/konduit/internal/crawler"
)

// Document is the readable content of one page.
type Document struct {
	Title string
	Text  string
	Links []string
}

const minBlockWords = 5

var (
	junkSelectors  = "script, style, nav, footer, header, noscript, aside, form"
	blockSelectors = "h1, h2, h3, p, li"
)

// Parse extracts the title, cleaned text, and canonical absolute links from body.
// Links are collected before boilerplate is stripped so navigation still feeds the crawl.
func Parse(baseURL string, body []byte) (Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	out := Document{
		Title: collapse(doc.Find("title").First().Text()),
		Links: links(doc, base),
	}

	doc.Find(junkSelectors).Remove()
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	seen := make(map[string]struct{})
	var blocks []string
	root.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		if len(strings.Fields(text)) <= minBlockWords || strings.HasPrefix(text, "©") {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		blocks = append(blocks, text)
	})
	out.Text = strings.Join(blocks, " ")
	return out, nil
}

func links(doc *goquery.Document, base *url.URL) []string {
	set := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		canonical, err := crawler.NormalizeURL(base.ResolveReference(ref).String())
		if err != nil {
			return
		}
		set[canonical] = struct{}{}
	})
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
