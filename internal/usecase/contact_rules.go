package usecase

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/pkg/utils"
)

// ContactRule applies one pattern family to a parsed page. Rules are
// independent of each other; a rule that matches nothing adds nothing.
type ContactRule struct {
	Name  string
	Apply func(page *parsedPage, out *entity.ContactSet)
}

// DefaultContactRules returns the email, phone and social rules.
func DefaultContactRules() []ContactRule {
	return []ContactRule{
		{Name: "email", Apply: applyEmailRule},
		{Name: "phone", Apply: applyPhoneRule},
		{Name: "social", Apply: applySocialRule},
	}
}

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	strictEmail  = regexp.MustCompile(`(?i)^[a-z0-9._%+\-]+@[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*\.[a-z]{2,}$`)

	bracketAt  = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*at\s*[\]\)\}>]\s*`)
	bracketDot = regexp.MustCompile(`(?i)\s*[\[\(\{<]\s*dot\s*[\]\)\}>]\s*`)
	spelledOut = regexp.MustCompile(`(?i)\b([a-z0-9._%+\-]+)\s+at\s+([a-z0-9\-]+(?:\s+dot\s+[a-z0-9\-]+)+)\b`)
	spelledDot = regexp.MustCompile(`(?i)\s+dot\s+`)
	spacedAt   = regexp.MustCompile(`([a-zA-Z0-9._%+\-])\s+@\s+([a-zA-Z0-9])`)

	intlPhone = regexp.MustCompile(`\+\d{1,3}(?:[\s.\-]?\(?\d{1,4}\)?){1,5}`)
	nanpPhone = regexp.MustCompile(`(?:\(\d{3}\)\s?|\b\d{3}[\s.\-])\d{3}[\s.\-]\d{4}\b`)
)

var placeholderDomains = map[string]bool{
	"example.com":    true,
	"example.org":    true,
	"example.net":    true,
	"domain.com":     true,
	"email.com":      true,
	"yourdomain.com": true,
	"yoursite.com":   true,
	"company.com":    true,
	"test.com":       true,
	"sentry.io":      true,
}

var noReplyLocals = map[string]bool{
	"noreply":      true,
	"no-reply":     true,
	"donotreply":   true,
	"do-not-reply": true,
}

// Top-level domains accepted in "name at host dot tld" spellings.
var spelledTLDs = map[string]bool{
	"com": true, "net": true, "org": true, "info": true, "biz": true,
	"io": true, "co": true, "app": true, "dev": true, "shop": true,
	"us": true, "uk": true, "ca": true, "au": true, "nz": true, "ie": true,
	"de": true, "fr": true, "nl": true, "be": true, "es": true, "it": true,
	"ch": true, "at": true, "se": true, "no": true, "dk": true, "fi": true,
	"pl": true, "eu": true, "in": true, "br": true, "mx": true, "za": true,
}

// Words that precede " at " in ordinary prose and are never mailboxes.
var proseLocals = map[string]bool{
	"us": true, "we": true, "me": true, "is": true, "are": true, "it": true,
	"you": true, "them": true, "him": true, "her": true, "find": true,
	"open": true, "located": true, "based": true, "visit": true, "meet": true,
	"available": true, "here": true, "there": true, "shop": true, "online": true,
}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".css", ".js"}

// DeobfuscateEmails rewrites "[at]"/"(dot)" and "name at host dot tld"
// spellings into plain addresses. The spelled-out form needs a known TLD and
// a local part that is not a common prose word; other text is left alone.
func DeobfuscateEmails(text string) string {
	text = bracketAt.ReplaceAllString(text, "@")
	text = bracketDot.ReplaceAllString(text, ".")
	text = spacedAt.ReplaceAllString(text, "$1@$2")
	return spelledOut.ReplaceAllStringFunc(text, func(m string) string {
		parts := spelledOut.FindStringSubmatch(m)
		labels := spelledDot.Split(parts[2], -1)
		if proseLocals[strings.ToLower(parts[1])] || !spelledTLDs[strings.ToLower(labels[len(labels)-1])] {
			return m
		}
		return parts[1] + "@" + strings.Join(labels, ".")
	})
}

// NormalizeEmail lowercases and validates an address, dropping placeholders,
// no-reply mailboxes and asset file names that look like addresses.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.Trim(strings.TrimSpace(raw), ".,;:"))
	if !strictEmail.MatchString(email) {
		return "", false
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(email, suffix) {
			return "", false
		}
	}
	at := strings.LastIndexByte(email, '@')
	local, domain := email[:at], email[at+1:]
	if noReplyLocals[local] || placeholderDomains[domain] {
		return "", false
	}
	for d := range placeholderDomains {
		if strings.HasSuffix(domain, "."+d) {
			return "", false
		}
	}
	return email, true
}

func applyEmailRule(page *parsedPage, out *entity.ContactSet) {
	for _, m := range emailPattern.FindAllString(DeobfuscateEmails(page.Text), -1) {
		if email, ok := NormalizeEmail(m); ok {
			out.AddEmail(email)
		}
	}
	page.Doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if len(href) < 7 || !strings.EqualFold(href[:7], "mailto:") {
			return
		}
		addr := href[7:]
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if decoded, err := url.PathUnescape(addr); err == nil {
			addr = decoded
		}
		for _, part := range strings.Split(addr, ",") {
			if email, ok := NormalizeEmail(part); ok {
				out.AddEmail(email)
			}
		}
	})
}

// NormalizePhone validates a phone number by digit count (7 to 15) and returns
// its display form with whitespace collapsed.
func NormalizePhone(raw string) (string, bool) {
	display := strings.Join(strings.Fields(strings.Trim(raw, " .-,;")), " ")
	digits := 0
	for _, r := range display {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '.' || r == ' ' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	if digits < 7 || digits > 15 {
		return "", false
	}
	return display, true
}

func applyPhoneRule(page *parsedPage, out *entity.ContactSet) {
	page.Doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if len(href) < 4 || !strings.EqualFold(href[:4], "tel:") {
			return
		}
		number := href[4:]
		if decoded, err := url.PathUnescape(number); err == nil {
			number = decoded
		}
		if phone, ok := NormalizePhone(number); ok {
			out.AddPhone(phone)
		}
	})

	text := page.Text
	for _, m := range intlPhone.FindAllString(text, -1) {
		if phone, ok := NormalizePhone(m); ok {
			out.AddPhone(phone)
		}
	}
	// NANP numbers already captured with a country code are skipped.
	for _, loc := range nanpPhone.FindAllStringIndex(text, -1) {
		if precededByCountryCode(text, loc[0]) {
			continue
		}
		if phone, ok := NormalizePhone(text[loc[0]:loc[1]]); ok {
			out.AddPhone(phone)
		}
	}
}

func precededByCountryCode(text string, start int) bool {
	i := start - 1
	for i >= 0 && (text[i] == ' ' || text[i] == '-' || text[i] == '.') {
		i--
	}
	j := i
	for j >= 0 && text[j] >= '0' && text[j] <= '9' {
		j--
	}
	return j >= 0 && j < i && text[j] == '+'
}

// socialHosts maps a link host to its platform.
var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"fb.me":         "facebook",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"lnkd.in":       "linkedin",
	"instagram.com": "instagram",
	"instagr.am":    "instagram",
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
	"pinterest.com": "pinterest",
	"pin.it":        "pinterest",
	"tiktok.com":    "tiktok",
}

var shareMarkers = []string{"/sharer", "/share", "/intent/", "/sharearticle", "/pin/create", "/dialog/"}

// SocialPlatform returns the platform of a profile link, or "" for anything
// else, including share and intent links.
func SocialPlatform(link string) string {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	host := utils.Hostname(link)
	platform := ""
	for h, p := range socialHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			platform = p
			break
		}
	}
	if platform == "" {
		return ""
	}
	path := strings.ToLower(u.Path)
	if path == "" || path == "/" {
		return ""
	}
	for _, marker := range shareMarkers {
		if strings.Contains(path, marker) {
			return ""
		}
	}
	return platform
}

func applySocialRule(page *parsedPage, out *entity.ContactSet) {
	page.Doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, err := utils.ToAbsoluteURL(page.Base, href)
		if err != nil {
			return
		}
		if platform := SocialPlatform(link); platform != "" {
			out.AddSocial(platform, link)
		}
	})
}

var contactIndicators = []string{"contact", "contact-us", "get-in-touch", "connect", "about", "about-us"}

// findContactPage returns the first same-site link that looks like a contact
// or about page. Contact links win over about links.
func findContactPage(page *parsedPage) string {
	var best string
	bestRank := len(contactIndicators)
	page.Doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") ||
			strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "#") {
			return
		}
		link, err := utils.ToAbsoluteURL(page.Base, href)
		if err != nil || !utils.IsHTTPURL(link) || utils.Hostname(link) != utils.Hostname(page.Base.String()) {
			return
		}
		text := strings.ToLower(s.Text())
		for rank, indicator := range contactIndicators {
			if rank >= bestRank {
				break
			}
			if strings.Contains(lower, indicator) || strings.Contains(text, indicator) {
				best, bestRank = link, rank
				break
			}
		}
	})
	return best
}
