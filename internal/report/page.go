package report

import (
	"bytes"
	"html/template"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        @import url('https://fonts.googleapis.com/css2?family=Noto+Sans+KR:wght@400;700&display=swap');
        body {
            font-family: 'Noto Sans KR', Arial, sans-serif;
            margin: 20px;
            line-height: 1.6;
            background-color: white;
        }
        h1 { color: #2c3e50; font-size: 24px; margin-top: 20px; }
        h2 { color: #3498db; font-size: 20px; margin-top: 16px; }
        h3 { color: #2980b9; font-size: 18px; margin-top: 14px; }
        p { margin-bottom: 10px; font-size: 16px; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; }
        th { background-color: #f2f2f2; }
        img { max-width: 100%; }
        .page {
            width: 21cm;
            min-height: 29.7cm;
            padding: 2cm;
            margin: 0 auto;
            border: 1px solid #D3D3D3;
            background-color: white;
            box-shadow: 0 0 5px rgba(0, 0, 0, 0.1);
        }
        @media print {
            .page { border: none; box-shadow: none; }
        }
    </style>
</head>
<body>
    <div class="page">
{{.}}
    </div>
</body>
</html>
`))

// RenderPage wraps an HTML fragment in the A4 preview page. The fragment
// must already be safe HTML.
func RenderPage(fragment []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, template.HTML(fragment)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
