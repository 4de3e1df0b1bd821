/*
 * Copyright 2019 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package endsession

import (
	"bytes"
	"html/template"
)

// FrontchannelPageData holds the values rendered into the front channel
// logout page.
type FrontchannelPageData struct {
	FrontchannelURIs []string
	RedirectURI      string
}

var frontchannelPageTemplate = template.Must(template.New("frontchannel").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Signed out</title>
{{- if .RedirectURI}}
<script>window.onload = function() { window.top.location.href = {{.RedirectURI}}; };</script>
{{- end}}
</head>
<body>
{{- range .FrontchannelURIs}}
<iframe style="display:none" src="{{.}}"></iframe>
{{- end}}
</body>
</html>
`))

// renderFrontchannelPage renders the front channel logout page, one hidden
// iframe per front channel logout URI plus an optional top level redirect.
func renderFrontchannelPage(data *FrontchannelPageData) (string, error) {
	var buf bytes.Buffer
	if err := frontchannelPageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
