package backend

import (
	"bytes"
	"encoding/csv"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/appseed/core/schema"
)

const maxMultipartMemory = 32 << 20

// upload is a binary part of a multipart request
type upload struct {
	Filename string
	Mime     string
	Data     []byte
}

// payload is the parsed body of a resource write
type payload struct {
	Docs    []map[string]interface{}
	IsList  bool
	Uploads []upload
}

// outputFields are generated by the backend and ignored when they are sent back
var outputFields = []string{"$created", "$updated", "$author", "$editor", "$seed", "$ephemeral"}

func stripOutputFields(doc map[string]interface{}) {
	for _, field := range outputFields {
		delete(doc, field)
	}
}

// parsePayload reads a JSON object, a JSON array, CSV or a multipart form with a "resource"
// field and "assets" files. CSV values are converted to the types declared in s.
func parsePayload(r *http.Request, s *schema.Schema) (*payload, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/json"
	}

	var p *payload
	switch mediaType {
	case "multipart/form-data":
		p, err = parseMultipart(r)
	case "text/csv":
		var body []byte
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, errBadRequest("cannot read body: %s", err.Error())
		}
		p, err = parseCSV(body, s)
	default:
		var body []byte
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, errBadRequest("cannot read body: %s", err.Error())
		}
		p, err = parseJSON(body)
	}
	if err != nil {
		return nil, err
	}
	for _, doc := range p.Docs {
		stripOutputFields(doc)
	}
	return p, nil
}

func parseJSON(body []byte) (*payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errBadRequest("request body is empty")
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errBadRequest("invalid JSON: %s", err.Error())
	}
	p := &payload{}
	var errs schema.ValidationErrors
	switch value := v.(type) {
	case map[string]interface{}:
		p.Docs = []map[string]interface{}{value}
	case []interface{}:
		if len(value) == 0 {
			return nil, errBadRequest("no resources given")
		}
		p.IsList = true
		for i, item := range value {
			doc, ok := item.(map[string]interface{})
			if !ok {
				errs = append(errs, schema.NewValidationError([]interface{}{i}, "type", "is not of a type(s) object", []interface{}{"object"}, item))
				continue
			}
			p.Docs = append(p.Docs, doc)
		}
	default:
		errs = append(errs, schema.NewValidationError(nil, "type", "is not of a type(s) object", []interface{}{"object"}, v))
	}
	if len(errs) > 0 {
		return nil, errValidation(errs)
	}
	return p, nil
}

func parseCSV(body []byte, s *schema.Schema) (*payload, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errBadRequest("invalid CSV: %s", err.Error())
	}
	if len(records) < 2 {
		return nil, errBadRequest("no resources given")
	}
	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	p := &payload{IsList: true}
	for _, record := range records[1:] {
		doc := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(record) {
				doc[name] = record[i]
			}
		}
		s.CoerceStrings(doc)
		p.Docs = append(p.Docs, doc)
	}
	return p, nil
}

func parseMultipart(r *http.Request) (*payload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, errBadRequest("invalid multipart form: %s", err.Error())
	}
	form := r.MultipartForm
	var resource []byte
	if values := form.Value["resource"]; len(values) > 0 {
		resource = []byte(values[0])
	} else if files := form.File["resource"]; len(files) > 0 {
		data, err := readPart(files[0])
		if err != nil {
			return nil, err
		}
		resource = data
	} else {
		return nil, errBadRequest("multipart form lacks the resource field")
	}
	p, err := parseJSON(resource)
	if err != nil {
		return nil, err
	}
	for _, fh := range form.File["assets"] {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		p.Uploads = append(p.Uploads, upload{Filename: fh.Filename, Mime: mimeType, Data: data})
	}
	return p, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errBadRequest("cannot open part %s: %s", fh.Filename, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errBadRequest("cannot read part %s: %s", fh.Filename, err.Error())
	}
	return data, nil
}
