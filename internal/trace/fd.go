package trace

// fd.go keeps a small fd-to-path table fed by open/openat, consulted by the
// dup family so a duplicated fd still resolves to a path if it is later
// used as an *at-family directory argument. strace almost always annotates
// an fd argument inline with the path it refers to (see ParseFD), so this
// table is a fallback for the rare case where it doesn't.

func sysDup(p *processState, argstr string, ret int64, errno string) {
	if errno != "" {
		return
	}
	fd, _, err := ParseFD(argstr)
	if err != nil || fd.AtFDCWD {
		return
	}
	if fd.Path != "" {
		p.fd2file[int(ret)] = fd.Path
		return
	}
	if pathname, ok := p.fd2file[fd.Num]; ok {
		p.fd2file[int(ret)] = pathname
	}
}

// lookupFD resolves a decoded FD argument to a path, preferring the
// tracer's inline annotation and falling back to the dup-class table.
func (p *processState) lookupFD(fd FD) string {
	if fd.AtFDCWD {
		return p.cwd
	}
	if fd.Path != "" {
		return fd.Path
	}
	return p.fd2file[fd.Num]
}
