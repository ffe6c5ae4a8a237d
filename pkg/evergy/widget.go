package evergy

import (
	"io"

	"github.com/PuerkitoBio/goquery"
)

// widgetDescriptor holds the six data attributes the login page embeds for
// the davinci widget. They parameterize every request in the login flow
// and are all required.
type widgetDescriptor struct {
	CompanyID          string
	SKAPIKey           string
	APIRoot            string
	PolicyID           string
	PostProcessingPath string
	DataSourceItemID   string
}

// parseWidgetDescriptor extracts the davinci widget configuration from the
// login page markup. A missing wrapper element or a missing/empty
// attribute yields a MissingWidgetDataError.
func parseWidgetDescriptor(r io.Reader) (widgetDescriptor, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return widgetDescriptor{}, err
	}

	wrapper := doc.Find("div.davinci-widget-wrapper").First()
	if wrapper.Length() == 0 {
		return widgetDescriptor{}, &MissingWidgetDataError{}
	}

	var d widgetDescriptor
	for _, attr := range []struct {
		name string
		dest *string
	}{
		{"data-davinci-company-id", &d.CompanyID},
		{"data-davinci-sk-api-key", &d.SKAPIKey},
		{"data-davinci-api-root", &d.APIRoot},
		{"data-davinci-policy-id", &d.PolicyID},
		{"data-davinci-post-processing-api", &d.PostProcessingPath},
		{"data-davinci-datasource-item-id", &d.DataSourceItemID},
	} {
		v, ok := wrapper.Attr(attr.name)
		if !ok || v == "" {
			return widgetDescriptor{}, &MissingWidgetDataError{Attr: attr.name}
		}
		*attr.dest = v
	}
	return d, nil
}
