package options

import (
	"net/url"
	"strconv"

	"harnscabinet/pkg/cabinet"
	"harnscabinet/pkg/runtime/constant"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

func validateSerial(path *field.Path, c constant.SerialConfig) field.ErrorList {
	var allErrs field.ErrorList
	if c.BaudRate <= 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("baudRate"), c.BaudRate, "must be greater than zero"))
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		allErrs = append(allErrs, field.Invalid(path.Child("dataBits"), c.DataBits, "must be between 5 and 8"))
	}
	if _, err := c.ParseParity(); err != nil {
		allErrs = append(allErrs, field.NotSupported(path.Child("parity"), c.Parity, []string{"N", "O", "E"}))
	}
	if _, err := c.ParseStopBits(); err != nil {
		allErrs = append(allErrs, field.NotSupported(path.Child("stopBits"), c.StopBits, []string{"1", "1.5", "2"}))
	}
	return allErrs
}

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}

	var allErrs field.ErrorList
	if p, err := strconv.Atoi(o.Port); err != nil || p <= 0 || p > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("port"), o.Port, "must be a port number"))
	}
	if len(o.Modbus.Port) == 0 {
		allErrs = append(allErrs, field.Required(field.NewPath("modbus", "port"), ""))
	}
	allErrs = append(allErrs, validateSerial(field.NewPath("modbus"), o.Modbus)...)
	if len(o.Remote.Port) != 0 {
		allErrs = append(allErrs, validateSerial(field.NewPath("remote"), o.Remote)...)
		if _, ok := cabinet.StringToLayout[o.RemoteLayout]; !ok {
			allErrs = append(allErrs, field.NotSupported(field.NewPath("remote-layout"), o.RemoteLayout, []string{cabinet.LayoutDefault, cabinet.LayoutCompact}))
		}
	}
	if o.Slave == 0 || o.Slave > 247 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("slave"), o.Slave, "must be between 1 and 247"))
	}
	if o.PollInterval < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("poll-interval"), o.PollInterval.String(), "must not be negative"))
	}
	if o.Retention < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("retention"), o.Retention, "must not be negative"))
	}
	if len(o.MQTT.URL) != 0 {
		if u, err := url.Parse(o.MQTT.URL); err != nil || len(u.Host) == 0 {
			allErrs = append(allErrs, field.Invalid(field.NewPath("mqtt", "url"), o.MQTT.URL, "must be a broker URL such as tcp://host:1883"))
		}
	}
	for _, err := range allErrs {
		errs = append(errs, err)
	}
	if err := o.Delays.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}
