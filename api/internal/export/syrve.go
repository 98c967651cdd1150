package export

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Exporter отправляет накладную во внешнюю систему. Повторов нет: ошибку видит пользователь.
type Exporter interface {
	Export(ctx context.Context, inv *Invoice) (bool, string)
}

type syrveDocument struct {
	XMLName  xml.Name    `xml:"SyrveDocument"`
	Supplier string      `xml:"Supplier"`
	Buyer    string      `xml:"Buyer"`
	Date     string      `xml:"Date"`
	Number   string      `xml:"Number,omitempty"`
	Items    []syrveItem `xml:"Items>Item"`
	TotalSum string      `xml:"TotalSum"`
}

type syrveItem struct {
	Name     string `xml:"Name"`
	Quantity string `xml:"Quantity"`
	Unit     string `xml:"Unit"`
	Price    string `xml:"Price"`
	Sum      string `xml:"Sum"`
}

// BuildXML сериализует накладную в формат Syrve.
func BuildXML(inv *Invoice) ([]byte, error) {
	doc := syrveDocument{
		Supplier: inv.Supplier,
		Buyer:    inv.Buyer,
		Date:     inv.Date,
		Number:   inv.Number,
		TotalSum: inv.Total.StringFixed(2),
	}
	for _, it := range inv.Items {
		doc.Items = append(doc.Items, syrveItem{
			Name:     it.Name,
			Quantity: it.Quantity.String(),
			Unit:     it.Unit,
			Price:    it.Price.StringFixed(2),
			Sum:      it.Sum.StringFixed(2),
		})
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// Syrve: выгрузка по HTTP (POST application/xml, Bearer-токен).
type Syrve struct {
	URL    string
	Token  string
	Client *http.Client
	Log    logrus.FieldLogger

	validate *validator.Validate
}

func NewSyrve(url, token string, timeout time.Duration, log logrus.FieldLogger) *Syrve {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Syrve{
		URL:      strings.TrimSpace(url),
		Token:    strings.TrimSpace(token),
		Client:   &http.Client{Timeout: timeout},
		Log:      log,
		validate: validator.New(),
	}
}

func (s *Syrve) Export(ctx context.Context, inv *Invoice) (bool, string) {
	if s.URL == "" {
		return false, "адрес Syrve не настроен"
	}
	if err := s.validate.Struct(inv); err != nil {
		return false, "накладная не прошла проверку: " + describeValidation(err)
	}
	body, err := BuildXML(inv)
	if err != nil {
		return false, fmt.Sprintf("xml: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/xml")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		s.logger().WithError(err).Error("syrve export failed")
		return false, fmt.Sprintf("ошибка соединения: %v", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger().WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(msg),
		}).Error("syrve rejected invoice")
		return false, fmt.Sprintf("Syrve ответил %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	s.logger().WithFields(logrus.Fields{"items": len(inv.Items), "total": inv.Total.StringFixed(2)}).Info("invoice exported")
	return true, "Накладная выгружена в Syrve"
}

func (s *Syrve) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func describeValidation(err error) string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, ve := range ves {
		parts = append(parts, ve.Namespace()+" "+ve.Tag())
	}
	return strings.Join(parts, ", ")
}
