package executor

import "strings"

// Extractor pulls one artifact URL out of a decoded JSON payload.
type Extractor func(payload any) (string, bool)

// extractors are tried in order; the first match wins.
var extractors = []Extractor{
	extractImageURLField,
	extractFirstDataURL,
	extractURLField,
	extractFirstImage,
	extractFromList,
	extractFromDataObject,
}

// ExtractArtifactURL returns the first artifact URL found in payload.
func ExtractArtifactURL(payload any) (string, bool) {
	for _, extract := range extractors {
		if url, ok := extract(payload); ok {
			return url, true
		}
	}
	return "", false
}

// ExtractArtifactURLs returns every distinct artifact URL in payload, in discovery order.
// The first element, when present, equals ExtractArtifactURL(payload).
func ExtractArtifactURLs(payload any) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(url string) {
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}

	if first, ok := ExtractArtifactURL(payload); ok {
		add(first)
	}

	collect := func(value any) {
		if obj, ok := value.(map[string]any); ok {
			for _, item := range asList(obj["data"]) {
				if url, ok := itemURL(item); ok {
					add(url)
				}
			}
			for _, item := range asList(obj["images"]) {
				if url, ok := nonEmpty(item); ok {
					add(url)
				} else if url, ok := itemURL(item); ok {
					add(url)
				}
			}
		}
		for _, item := range asList(value) {
			if url, ok := itemURL(item); ok {
				add(url)
			}
		}
	}

	collect(payload)
	if obj, ok := payload.(map[string]any); ok {
		if inner, ok := obj["data"].(map[string]any); ok {
			collect(inner)
		}
	}
	return urls
}

func extractImageURLField(payload any) (string, bool) {
	return stringField(payload, "imageUrl")
}

func extractFirstDataURL(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	list := asList(obj["data"])
	if len(list) == 0 {
		return "", false
	}
	return stringField(list[0], "url")
}

func extractURLField(payload any) (string, bool) {
	return stringField(payload, "url")
}

func extractFirstImage(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	list := asList(obj["images"])
	if len(list) == 0 {
		return "", false
	}
	return nonEmpty(list[0])
}

func extractFromList(payload any) (string, bool) {
	for _, item := range asList(payload) {
		if url, ok := itemURL(item); ok {
			return url, true
		}
	}
	return "", false
}

// extractFromDataObject unwraps {data: {...}} one level, as returned by n8n execution results.
func extractFromDataObject(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	inner, ok := obj["data"].(map[string]any)
	if !ok {
		return "", false
	}
	for _, extract := range []Extractor{extractImageURLField, extractFirstDataURL, extractURLField, extractFirstImage} {
		if url, ok := extract(inner); ok {
			return url, true
		}
	}
	return "", false
}

// itemURL reads .imageUrl, .url or .data.url of a list item.
func itemURL(item any) (string, bool) {
	if url, ok := stringField(item, "imageUrl"); ok {
		return url, true
	}
	if url, ok := stringField(item, "url"); ok {
		return url, true
	}
	obj, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(obj["data"], "url")
}

func stringField(value any, key string) (string, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	return nonEmpty(obj[key])
}

func nonEmpty(value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func asList(value any) []any {
	list, _ := value.([]any)
	return list
}
