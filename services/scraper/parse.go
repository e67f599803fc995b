// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scraper

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/AleutianAI/LabAssistant/pkg/validation"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page selectors of the protocol library.
const (
	subcategorySelector = "a.subCategory"
	protocolSelector    = "div.protocol"
	contentSelector     = "div.selected-protocol"
)

// SubcategoryLinks returns the href of every subcategory link on the root
// page, in document order.
func SubcategoryLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find(subcategorySelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}

// ProtocolLinks returns the first link href inside each protocol entry of a
// subcategory page.
func ProtocolLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find(protocolSelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}

// ProtocolText returns the text of the protocol body: every text node
// trimmed, empty ones dropped, joined with newlines. ok is false when the
// page has no protocol body.
func ProtocolText(doc *goquery.Document) (text string, ok bool) {
	sel := doc.Find(contentSelector).First()
	if sel.Length() == 0 {
		return "", false
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel.Nodes[0])
	return strings.Join(lines, "\n"), true
}

// ProtocolName returns the last path segment of a protocol URL, used as the
// output file name.
func ProtocolName(protocolURL string) (string, error) {
	u, err := url.Parse(protocolURL)
	if err != nil {
		return "", err
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "" || name == "." || name == "/" {
		return "", errors.New("protocol URL has no name segment")
	}
	if err := validation.ValidateFileStem(name); err != nil {
		return "", err
	}
	return name, nil
}
